package kmsink

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"launchpad.net/gommap"

	"github.com/NeowayLabs/kmsink/drm"
	"github.com/NeowayLabs/kmsink/drm/mode"
)

type deviceCaps struct {
	DumbBuffer    bool
	PrimeImport   bool
	PrimeExport   bool
	AsyncPageFlip bool
}

// device is the KMS surface the sink drives. Production code uses
// kmsDevice over a DRM file descriptor; tests substitute a fake.
// Destroy-side calls are best effort and report nothing.
type device interface {
	Close() error
	Caps() deviceCaps
	SetUniversalPlanes() error

	Resources() (*mode.Resources, error)
	Connector(id uint32) (*mode.Connector, error)
	Encoder(id uint32) (*mode.Encoder, error)
	CRTC(id uint32) (*mode.Crtc, error)
	Planes() ([]uint32, error)
	Plane(id uint32) (*mode.Plane, error)
	ObjectProperties(objID, objType uint32) ([]mode.Property, error)
	SetObjectProperty(objID, objType, propID uint32, value uint64) error

	SetCRTC(crtcID, fbID, x, y, connID uint32, m *mode.Info) error
	SetPlane(planeID, crtcID, fbID uint32, dst, src Rect) error
	AddFB2(fb *mode.FB2) (uint32, error)
	RmFB(id uint32)

	CreateDumb(width, height, bpp uint32) (*mode.FB, error)
	DestroyDumb(handle uint32)
	MapDumb(handle uint32, size uint64) ([]byte, error)
	Unmap(data []byte) error

	ImportDMABuf(fd int) (uint32, error)
	CloseHandle(handle uint32)
	MapDMABuf(fd int, size uint64) ([]byte, error)
	DMABufSize(fd int) (uint64, error)

	PageFlip(crtcID, fbID uint32) error
	QueueVBlank(pipe int) error
	NextEvent(timeout time.Duration) (drm.Event, error)
}

type kmsDevice struct {
	file *os.File

	// pending holds events read in one batch but not yet consumed.
	pending []drm.Event
}

func openDevice(cfg config) (*kmsDevice, string, error) {
	var (
		file *os.File
		name string
		err  error
	)
	switch {
	case cfg.driverName != "":
		file, err = drm.OpenByDriver(cfg.driverName)
		name = cfg.driverName
	case cfg.cardNumber >= 0:
		file, err = drm.OpenCard(cfg.cardNumber)
		if err == nil {
			if version, verr := drm.GetVersion(file); verr == nil {
				name = version.Name
			}
		}
	default:
		file, name, err = drm.OpenKMSDevice()
	}
	if err != nil {
		return nil, "", err
	}
	return &kmsDevice{file: file}, name, nil
}

func (d *kmsDevice) Close() error {
	return d.file.Close()
}

func (d *kmsDevice) Caps() deviceCaps {
	var c deviceCaps
	c.DumbBuffer = drm.HasDumbBuffer(d.file)
	if val, err := drm.GetCap(d.file, drm.CapPrime); err == nil {
		c.PrimeImport = val&drm.PrimeCapImport != 0
		c.PrimeExport = val&drm.PrimeCapExport != 0
	}
	if val, err := drm.GetCap(d.file, drm.CapAsyncPageFlip); err == nil {
		c.AsyncPageFlip = val != 0
	}
	return c
}

func (d *kmsDevice) SetUniversalPlanes() error {
	return drm.SetClientCap(d.file, drm.ClientCapUniversalPlanes, 1)
}

func (d *kmsDevice) Resources() (*mode.Resources, error) {
	return mode.GetResources(d.file)
}

func (d *kmsDevice) Connector(id uint32) (*mode.Connector, error) {
	return mode.GetConnector(d.file, id)
}

func (d *kmsDevice) Encoder(id uint32) (*mode.Encoder, error) {
	return mode.GetEncoder(d.file, id)
}

func (d *kmsDevice) CRTC(id uint32) (*mode.Crtc, error) {
	return mode.GetCrtc(d.file, id)
}

func (d *kmsDevice) Planes() ([]uint32, error) {
	return mode.GetPlaneResources(d.file)
}

func (d *kmsDevice) Plane(id uint32) (*mode.Plane, error) {
	return mode.GetPlane(d.file, id)
}

func (d *kmsDevice) ObjectProperties(objID, objType uint32) ([]mode.Property, error) {
	return mode.ObjectProperties(d.file, objID, objType)
}

func (d *kmsDevice) SetObjectProperty(objID, objType, propID uint32, value uint64) error {
	return mode.SetObjectProperty(d.file, objID, objType, propID, value)
}

func (d *kmsDevice) SetCRTC(crtcID, fbID, x, y, connID uint32, m *mode.Info) error {
	return mode.SetCrtc(d.file, crtcID, fbID, x, y, &connID, 1, m)
}

// SetPlane positions fbID on the plane, converting the source
// rectangle to the 16.16 fixed point the kernel expects.
func (d *kmsDevice) SetPlane(planeID, crtcID, fbID uint32, dst, src Rect) error {
	return mode.SetPlane(d.file, planeID, crtcID, fbID, 0,
		dst.X, dst.Y, dst.W, dst.H,
		uint32(src.X)<<16, uint32(src.Y)<<16, src.W<<16, src.H<<16)
}

func (d *kmsDevice) AddFB2(fb *mode.FB2) (uint32, error) {
	return mode.AddFB2(d.file, fb)
}

func (d *kmsDevice) RmFB(id uint32) {
	mode.RmFB(d.file, id)
}

func (d *kmsDevice) CreateDumb(width, height, bpp uint32) (*mode.FB, error) {
	return mode.CreateDumb(d.file, width, height, bpp)
}

func (d *kmsDevice) DestroyDumb(handle uint32) {
	mode.DestroyDumb(d.file, handle)
}

func (d *kmsDevice) MapDumb(handle uint32, size uint64) ([]byte, error) {
	offset, err := mode.MapDumb(d.file, handle)
	if err != nil {
		return nil, err
	}
	data, err := gommap.MapAt(0, uintptr(d.file.Fd()), int64(offset), int64(size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *kmsDevice) Unmap(data []byte) error {
	return gommap.MMap(data).UnsafeUnmap()
}

func (d *kmsDevice) ImportDMABuf(fd int) (uint32, error) {
	return drm.PrimeFDToHandle(d.file, fd)
}

func (d *kmsDevice) CloseHandle(handle uint32) {
	drm.CloseBufferHandle(d.file, handle)
}

func (d *kmsDevice) MapDMABuf(fd int, size uint64) ([]byte, error) {
	data, err := gommap.MapAt(0, uintptr(fd), 0, int64(size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DMABufSize sizes a dma-buf by seeking it, the only size query the
// dma-buf fd interface offers.
func (d *kmsDevice) DMABufSize(fd int) (uint64, error) {
	end, err := unix.Seek(fd, 0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		return 0, err
	}
	return uint64(end), nil
}

func (d *kmsDevice) PageFlip(crtcID, fbID uint32) error {
	return mode.PageFlip(d.file, crtcID, fbID, mode.PageFlipEvent, 0)
}

func (d *kmsDevice) QueueVBlank(pipe int) error {
	typ := drm.PipeVBlankType(pipe, drm.VBlankRelative|drm.VBlankEvent)
	_, _, err := drm.WaitVBlank(d.file, typ, 1)
	return err
}

// NextEvent returns one queued DRM event, polling the descriptor
// until the timeout elapses. Events read in a batch beyond the first
// are kept for later calls.
func (d *kmsDevice) NextEvent(timeout time.Duration) (drm.Event, error) {
	if len(d.pending) > 0 {
		ev := d.pending[0]
		d.pending = d.pending[1:]
		return ev, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain < 0 {
			return drm.Event{}, os.ErrDeadlineExceeded
		}
		fds := []unix.PollFd{{Fd: int32(d.file.Fd()), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remain/time.Millisecond)+1)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return drm.Event{}, err
		}
		if n == 0 {
			return drm.Event{}, os.ErrDeadlineExceeded
		}

		evs, err := drm.ReadEvents(d.file)
		if err != nil {
			return drm.Event{}, err
		}
		if len(evs) == 0 {
			continue
		}
		d.pending = append(d.pending, evs[1:]...)
		return evs[0], nil
	}
}
