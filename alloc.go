package kmsink

import (
	"fmt"

	"github.com/NeowayLabs/kmsink/drm/mode"
)

// Allocator provides the buffers frames are shown from. Allocate
// returns writable scanout memory for the given video geometry and
// Import wraps externally allocated dma-buf planes.
type Allocator interface {
	Allocate(info VideoInfo) (Memory, error)
	Import(planes []DMAPlane, info VideoInfo) (Memory, error)
	Release(mem Memory)
}

// dumbAllocator allocates driver dumb buffers. Planar formats are
// allocated as one byte-addressed buffer tall enough to stack every
// plane at the luma pitch.
type dumbAllocator struct {
	dev device
}

func (a *dumbAllocator) Allocate(info VideoInfo) (Memory, error) {
	info = info.withDefaults()
	fieldH := info.FieldHeight()

	var (
		fb  *mode.FB
		err error
	)
	if info.Format.Planes() > 1 {
		rows := info.Format.stackedRows(uint32(fieldH))
		fb, err = a.dev.CreateDumb(uint32(info.Width), rows, 8)
	} else {
		fb, err = a.dev.CreateDumb(uint32(info.Width), uint32(fieldH), info.Format.baseDepth())
	}
	if err != nil {
		return nil, err
	}

	data, err := a.dev.MapDumb(fb.Handle, fb.Size)
	if err != nil {
		a.dev.DestroyDumb(fb.Handle)
		return nil, err
	}
	return &dumbMemory{
		dev:    a.dev,
		handle: fb.Handle,
		layout: layoutFor(info.Format, fieldH, fb.Pitch),
		data:   data,
		info:   info,
	}, nil
}

// Import turns dma-buf plane descriptors into displayable memory.
// Planes without a descriptor of their own share the first buffer at
// the derived layout offsets. Descriptors pointing at the same file
// share one GEM handle.
func (a *dumbAllocator) Import(planes []DMAPlane, info VideoInfo) (Memory, error) {
	if len(planes) == 0 {
		return nil, ErrNoMemory
	}
	info = info.withDefaults()

	pitch0 := planes[0].Stride
	if pitch0 == 0 {
		pitch0 = uint32(info.Format.tightPlanePitch(0, info.Width))
	}
	layout := layoutFor(info.Format, info.FieldHeight(), pitch0)

	im := &importMemory{
		dev:    a.dev,
		info:   info,
		planes: append([]DMAPlane(nil), planes...),
	}
	handleByFD := make(map[int]uint32, len(planes))
	for i := 0; i < layout.planes; i++ {
		fd := planes[0].FD
		offset := planes[0].Offset + layout.offsets[i]
		pitch := layout.pitches[i]
		if i < len(planes) {
			fd = planes[i].FD
			offset = planes[i].Offset
			if planes[i].Stride != 0 {
				pitch = planes[i].Stride
			}
		}

		handle, ok := handleByFD[fd]
		if !ok {
			h, err := a.dev.ImportDMABuf(fd)
			if err != nil {
				im.release()
				return nil, err
			}
			handleByFD[fd] = h
			handle = h
		}
		im.handles[i] = handle
		im.pitches[i] = pitch
		im.offsets[i] = offset
	}
	return im, nil
}

func (a *dumbAllocator) Release(mem Memory) {
	switch m := mem.(type) {
	case *dumbMemory:
		if m.data != nil {
			a.dev.Unmap(m.data)
			m.data = nil
		}
		a.dev.DestroyDumb(m.handle)
	case *importMemory:
		m.release()
	}
}

// dumbMemory is a mapped dumb buffer. Every plane lives in the one
// buffer object, so Handles repeats the same handle.
type dumbMemory struct {
	dev    device
	handle uint32
	layout bufferLayout
	data   []byte
	info   VideoInfo
}

func (m *dumbMemory) Info() VideoInfo { return m.info }

func (m *dumbMemory) Handles() [4]uint32 {
	var h [4]uint32
	for i := 0; i < m.layout.planes; i++ {
		h[i] = m.handle
	}
	return h
}

func (m *dumbMemory) Pitches() [4]uint32 { return m.layout.pitches }
func (m *dumbMemory) Offsets() [4]uint32 { return m.layout.offsets }
func (m *dumbMemory) Bytes() []byte      { return m.data }

// importMemory is displayable memory wrapping imported dma-bufs. It
// stays unmapped until something needs the bytes.
type importMemory struct {
	dev     device
	info    VideoInfo
	planes  []DMAPlane
	handles [4]uint32
	pitches [4]uint32
	offsets [4]uint32
	mapped  []byte
}

func (m *importMemory) Info() VideoInfo    { return m.info }
func (m *importMemory) Handles() [4]uint32 { return m.handles }
func (m *importMemory) Pitches() [4]uint32 { return m.pitches }
func (m *importMemory) Offsets() [4]uint32 { return m.offsets }
func (m *importMemory) Bytes() []byte      { return m.mapped }

// ensureMapped maps the underlying dma-buf for CPU access. Only
// single-buffer imports can be mapped.
func (m *importMemory) ensureMapped() error {
	if m.mapped != nil {
		return nil
	}
	fd := m.planes[0].FD
	for _, p := range m.planes[1:] {
		if p.FD != fd {
			return fmt.Errorf("kmsink: dma-buf planes span multiple buffers")
		}
	}
	size, err := m.dev.DMABufSize(fd)
	if err != nil {
		return err
	}
	data, err := m.dev.MapDMABuf(fd, size)
	if err != nil {
		return err
	}
	m.mapped = data
	return nil
}

func (m *importMemory) release() {
	if m.mapped != nil {
		m.dev.Unmap(m.mapped)
		m.mapped = nil
	}
	closed := make(map[uint32]bool, len(m.handles))
	for _, h := range m.handles {
		if h == 0 || closed[h] {
			continue
		}
		closed[h] = true
		m.dev.CloseHandle(h)
	}
}

// copyPlanes copies every plane of src into dst row by row, honoring
// each side's pitch.
func copyPlanes(dst, src Memory) {
	info := dst.Info()
	d, s := dst.Bytes(), src.Bytes()
	dp, sp := dst.Pitches(), src.Pitches()
	do, so := dst.Offsets(), src.Offsets()

	fieldH := info.FieldHeight()
	for i := 0; i < info.Format.Planes(); i++ {
		rows := info.Format.planeRowCount(i, fieldH)
		n := dp[i]
		if sp[i] < n {
			n = sp[i]
		}
		for r := uint32(0); r < uint32(rows); r++ {
			db := do[i] + r*dp[i]
			sb := so[i] + r*sp[i]
			copy(d[db:db+n], s[sb:sb+n])
		}
	}
}

// copyData copies a tightly packed frame payload into dst.
func copyData(dst Memory, data []byte, info VideoInfo) error {
	fieldH := info.FieldHeight()

	need := 0
	for i := 0; i < info.Format.Planes(); i++ {
		need += info.Format.planeRowCount(i, fieldH) * info.Format.tightPlanePitch(i, info.Width)
	}
	if len(data) < need {
		return ErrNoMemory
	}

	d := dst.Bytes()
	dp := dst.Pitches()
	do := dst.Offsets()
	src := 0
	for i := 0; i < info.Format.Planes(); i++ {
		rows := info.Format.planeRowCount(i, fieldH)
		tight := info.Format.tightPlanePitch(i, info.Width)
		for r := 0; r < rows; r++ {
			db := int(do[i]) + r*int(dp[i])
			copy(d[db:db+tight], data[src:src+tight])
			src += tight
		}
	}
	return nil
}
