package kmsink

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/NeowayLabs/kmsink/drm"
	"github.com/NeowayLabs/kmsink/drm/mode"
)

// fakeDevice is an in-memory device so the sink logic runs without a
// card. It records every kernel-facing call for the tests to inspect.
type fakeDevice struct {
	caps      deviceCaps
	universal bool

	res        *mode.Resources
	connectors map[uint32]*mode.Connector
	encoders   map[uint32]*mode.Encoder
	crtcs      map[uint32]*mode.Crtc
	planes     map[uint32]*mode.Plane
	planeOrder []uint32
	planeTypes map[uint32]uint64
	props      map[uint32][]mode.Property

	// hidePlanesUntilUniversal mimics drivers that list no planes at
	// all before the universal planes client cap is set.
	hidePlanesUntilUniversal bool

	nextHandle uint32
	dumbs      map[uint32][]byte
	destroys   []uint32

	nextFB  uint32
	liveFBs map[uint32]mode.FB2
	addFB2s int
	rmFBs   []uint32

	crtcSets   []crtcCall
	setCrtcErr error

	planeSets         []planeCall
	rejectScaledPlane bool
	setPlaneErr       error

	propWrites []propWrite

	dmabufs       map[int][]byte
	importCalls   int
	closedHandles []uint32

	universalSets int
	flips         int
	vblanks       int
	noEvents      bool
	sequence      uint32
	events        []drm.Event

	closed bool
	now    time.Time
}

type crtcCall struct {
	crtcID, fbID, x, y, connID uint32
	mode                       *mode.Info
}

type planeCall struct {
	planeID, crtcID, fbID uint32
	dst, src              Rect
}

type propWrite struct {
	objID, objType, propID uint32
	value                  uint64
}

// newFakeDevice builds the standard test topology: a disconnected
// VGA connector, a connected HDMI one driven by crtc 11 (pipe 0), a
// spare crtc 12, an overlay plane on pipe 0 and a primary plane that
// only shows up with universal planes.
func newFakeDevice() *fakeDevice {
	d := &fakeDevice{
		caps: deviceCaps{
			DumbBuffer:  true,
			PrimeImport: true,
		},
		connectors: make(map[uint32]*mode.Connector),
		encoders:   make(map[uint32]*mode.Encoder),
		crtcs:      make(map[uint32]*mode.Crtc),
		planes:     make(map[uint32]*mode.Plane),
		planeTypes: make(map[uint32]uint64),
		props:      make(map[uint32][]mode.Property),
		dumbs:      make(map[uint32][]byte),
		liveFBs:    make(map[uint32]mode.FB2),
		dmabufs:    make(map[int][]byte),
		nextHandle: 100,
		nextFB:     500,
		now:        time.Unix(1000, 0),
	}

	mode1080p60 := mode.Info{Clock: 148500, Hdisplay: 1920, Htotal: 2200, Vdisplay: 1080, Vtotal: 1125}
	mode480p60 := mode.Info{Clock: 29700, Hdisplay: 720, Htotal: 900, Vdisplay: 480, Vtotal: 550}
	mode480p50 := mode.Info{Clock: 24750, Hdisplay: 720, Htotal: 900, Vdisplay: 480, Vtotal: 550}
	mode240i60 := mode.Info{
		Clock: 13500, Hdisplay: 720, Htotal: 900, Vdisplay: 240, Vtotal: 250,
		Flags: mode.ModeFlagInterlace,
	}

	d.connectors[31] = &mode.Connector{
		ID:         31,
		EncoderID:  21,
		Type:       mode.ConnectorHDMIA,
		Connection: mode.Connected,
		Width:      0, Height: 0,
		Modes:    []mode.Info{mode1080p60, mode480p60, mode480p50, mode240i60},
		Encoders: []uint32{21},
	}
	d.connectors[32] = &mode.Connector{
		ID:         32,
		Type:       mode.ConnectorVGA,
		Connection: mode.Disconnected,
		Encoders:   []uint32{22},
	}
	d.encoders[21] = &mode.Encoder{ID: 21, CrtcID: 11, PossibleCrtcs: 0b11}
	d.encoders[22] = &mode.Encoder{ID: 22, PossibleCrtcs: 0b11}
	d.crtcs[11] = &mode.Crtc{
		ID: 11, BufferID: 99, ModeValid: 1, Mode: mode1080p60,
		Width: 1920, Height: 1080,
	}
	d.crtcs[12] = &mode.Crtc{ID: 12}

	d.addPlane(41, mode.PlaneTypeOverlay, 0b01, []uint32{
		uint32(FormatNV12), uint32(FormatNV16), uint32(FormatI420),
		uint32(FormatYUYV), uint32(FormatXRGB8888),
	})
	d.addPlane(42, mode.PlaneTypePrimary, 0b01, []uint32{
		uint32(FormatXRGB8888), uint32(FormatARGB8888),
	})
	d.addPlane(43, mode.PlaneTypeCursor, 0b01, []uint32{uint32(FormatARGB8888)})

	d.res = &mode.Resources{
		Crtcs:      []uint32{11, 12},
		Connectors: []uint32{32, 31},
		Encoders:   []uint32{21, 22},
	}
	return d
}

func (d *fakeDevice) addPlane(id uint32, typ uint64, possibleCrtcs uint32, formats []uint32) {
	d.planes[id] = &mode.Plane{ID: id, PossibleCrtcs: possibleCrtcs, Formats: formats}
	d.planeOrder = append(d.planeOrder, id)
	d.planeTypes[id] = typ
	d.props[id] = append(d.props[id], mode.Property{ID: id*10 + 1, Name: "type", Value: typ})
}

func (d *fakeDevice) addProperty(objID uint32, p mode.Property) {
	d.props[objID] = append(d.props[objID], p)
}

func (d *fakeDevice) addDMABuf(fd int, size int) {
	d.dmabufs[fd] = make([]byte, size)
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDevice) Caps() deviceCaps { return d.caps }

func (d *fakeDevice) SetUniversalPlanes() error {
	d.universalSets++
	d.universal = true
	return nil
}

func (d *fakeDevice) Resources() (*mode.Resources, error) { return d.res, nil }

func (d *fakeDevice) Connector(id uint32) (*mode.Connector, error) {
	conn, ok := d.connectors[id]
	if !ok {
		return nil, fmt.Errorf("no connector %d", id)
	}
	c := *conn
	return &c, nil
}

func (d *fakeDevice) Encoder(id uint32) (*mode.Encoder, error) {
	enc, ok := d.encoders[id]
	if !ok {
		return nil, fmt.Errorf("no encoder %d", id)
	}
	e := *enc
	return &e, nil
}

func (d *fakeDevice) CRTC(id uint32) (*mode.Crtc, error) {
	crtc, ok := d.crtcs[id]
	if !ok {
		return nil, fmt.Errorf("no crtc %d", id)
	}
	c := *crtc
	return &c, nil
}

func (d *fakeDevice) Planes() ([]uint32, error) {
	if !d.universal && d.hidePlanesUntilUniversal {
		return nil, nil
	}
	var ids []uint32
	for _, id := range d.planeOrder {
		if !d.universal && d.planeTypes[id] != mode.PlaneTypeOverlay {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *fakeDevice) Plane(id uint32) (*mode.Plane, error) {
	plane, ok := d.planes[id]
	if !ok {
		return nil, fmt.Errorf("no plane %d", id)
	}
	p := *plane
	return &p, nil
}

func (d *fakeDevice) ObjectProperties(objID, objType uint32) ([]mode.Property, error) {
	return append([]mode.Property(nil), d.props[objID]...), nil
}

func (d *fakeDevice) SetObjectProperty(objID, objType, propID uint32, value uint64) error {
	d.propWrites = append(d.propWrites, propWrite{objID, objType, propID, value})
	for i, p := range d.props[objID] {
		if p.ID == propID {
			d.props[objID][i].Value = value
		}
	}
	return nil
}

func (d *fakeDevice) SetCRTC(crtcID, fbID, x, y, connID uint32, m *mode.Info) error {
	if d.setCrtcErr != nil {
		return d.setCrtcErr
	}
	var mcopy *mode.Info
	if m != nil {
		mm := *m
		mcopy = &mm
	}
	d.crtcSets = append(d.crtcSets, crtcCall{crtcID, fbID, x, y, connID, mcopy})
	if crtc, ok := d.crtcs[crtcID]; ok {
		crtc.BufferID = fbID
		if m != nil {
			crtc.Mode = *m
			crtc.ModeValid = 1
		}
	}
	return nil
}

func (d *fakeDevice) SetPlane(planeID, crtcID, fbID uint32, dst, src Rect) error {
	if d.setPlaneErr != nil {
		return d.setPlaneErr
	}
	if d.rejectScaledPlane && (src.W != dst.W || src.H != dst.H) {
		return errors.New("fake: plane cannot scale")
	}
	d.planeSets = append(d.planeSets, planeCall{planeID, crtcID, fbID, dst, src})
	return nil
}

func (d *fakeDevice) AddFB2(fb *mode.FB2) (uint32, error) {
	if fb.Handles[0] == 0 {
		return 0, errors.New("fake: framebuffer without a handle")
	}
	d.addFB2s++
	d.nextFB++
	d.liveFBs[d.nextFB] = *fb
	return d.nextFB, nil
}

func (d *fakeDevice) RmFB(id uint32) {
	d.rmFBs = append(d.rmFBs, id)
	delete(d.liveFBs, id)
}

func (d *fakeDevice) CreateDumb(width, height, bpp uint32) (*mode.FB, error) {
	pitch := width * bpp / 8
	size := uint64(pitch) * uint64(height)
	d.nextHandle++
	d.dumbs[d.nextHandle] = make([]byte, size)
	return &mode.FB{
		Width: width, Height: height, BPP: bpp,
		Handle: d.nextHandle, Pitch: pitch, Size: size,
	}, nil
}

func (d *fakeDevice) DestroyDumb(handle uint32) {
	d.destroys = append(d.destroys, handle)
	delete(d.dumbs, handle)
}

func (d *fakeDevice) MapDumb(handle uint32, size uint64) ([]byte, error) {
	data, ok := d.dumbs[handle]
	if !ok {
		return nil, fmt.Errorf("no dumb buffer %d", handle)
	}
	return data, nil
}

func (d *fakeDevice) Unmap(data []byte) error { return nil }

func (d *fakeDevice) ImportDMABuf(fd int) (uint32, error) {
	if _, ok := d.dmabufs[fd]; !ok {
		return 0, fmt.Errorf("no dmabuf on fd %d", fd)
	}
	d.importCalls++
	d.nextHandle++
	return d.nextHandle, nil
}

func (d *fakeDevice) CloseHandle(handle uint32) {
	d.closedHandles = append(d.closedHandles, handle)
}

func (d *fakeDevice) MapDMABuf(fd int, size uint64) ([]byte, error) {
	data, ok := d.dmabufs[fd]
	if !ok {
		return nil, fmt.Errorf("no dmabuf on fd %d", fd)
	}
	return data, nil
}

func (d *fakeDevice) DMABufSize(fd int) (uint64, error) {
	data, ok := d.dmabufs[fd]
	if !ok {
		return 0, fmt.Errorf("no dmabuf on fd %d", fd)
	}
	return uint64(len(data)), nil
}

func (d *fakeDevice) PageFlip(crtcID, fbID uint32) error {
	d.flips++
	d.pushEvent(drm.EventFlipComplete)
	return nil
}

func (d *fakeDevice) QueueVBlank(pipe int) error {
	d.vblanks++
	d.pushEvent(drm.EventVBlank)
	return nil
}

func (d *fakeDevice) pushEvent(typ uint32) {
	if d.noEvents {
		return
	}
	d.sequence++
	d.events = append(d.events, drm.Event{
		Type:      typ,
		Timestamp: d.now,
		Sequence:  d.sequence,
	})
}

func (d *fakeDevice) NextEvent(timeout time.Duration) (drm.Event, error) {
	if len(d.events) == 0 {
		return drm.Event{}, os.ErrDeadlineExceeded
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, nil
}

// syncCount is the total number of vblank-synchronized submissions
// the fake has seen, page flips and vblank waits combined.
func (d *fakeDevice) syncCount() int { return d.flips + d.vblanks }

// newTestSink wires a sink to the fake device and starts it.
func newTestSink(t *testing.T, dev *fakeDevice, opts ...Option) *Sink {
	t.Helper()
	s := New(opts...)
	s.dev = dev
	s.nowFn = func() time.Time { return dev.now }
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func testVideoInfo() VideoInfo {
	return VideoInfo{
		Format: FormatNV12,
		Width:  720, Height: 480,
		FPSNum: 60, FPSDen: 1,
	}
}

// testFrameData is a tightly packed payload for the given format.
func testFrameData(info VideoInfo) []byte {
	size := 0
	for i := 0; i < info.Format.Planes(); i++ {
		size += info.Format.planeRowCount(i, info.FieldHeight()) *
			info.Format.tightPlanePitch(i, info.Width)
	}
	return make([]byte, size)
}
