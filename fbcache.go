package kmsink

import "github.com/NeowayLabs/kmsink/drm/mode"

type fbEntry struct {
	id    uint32
	flags uint32
}

// fbCache maps memory buffers to kernel framebuffer objects so a
// buffer shown repeatedly is registered only once. Interlace flags
// are baked into the framebuffer, so a flag change re-registers.
type fbCache struct {
	dev     device
	entries map[Memory]fbEntry
}

func newFBCache(dev device) *fbCache {
	return &fbCache{dev: dev, entries: make(map[Memory]fbEntry)}
}

func (c *fbCache) bind(mem Memory, flags uint32) (uint32, error) {
	if e, ok := c.entries[mem]; ok {
		if e.flags == flags {
			return e.id, nil
		}
		c.dev.RmFB(e.id)
		delete(c.entries, mem)
	}

	info := mem.Info()
	fb := mode.FB2{
		Width:       uint32(info.Width),
		Height:      uint32(info.FieldHeight()),
		PixelFormat: uint32(info.Format),
		Flags:       flags,
		Handles:     mem.Handles(),
		Pitches:     mem.Pitches(),
		Offsets:     mem.Offsets(),
	}
	id, err := c.dev.AddFB2(&fb)
	if err != nil {
		return 0, err
	}
	c.entries[mem] = fbEntry{id: id, flags: flags}
	return id, nil
}

func (c *fbCache) drop(mem Memory) {
	if e, ok := c.entries[mem]; ok {
		c.dev.RmFB(e.id)
		delete(c.entries, mem)
	}
}

func (c *fbCache) clear() {
	for _, e := range c.entries {
		c.dev.RmFB(e.id)
	}
	c.entries = make(map[Memory]fbEntry)
}
