package kmsink

import (
	"errors"
	"testing"
	"time"

	"github.com/NeowayLabs/kmsink/drm/mode"
)

func TestShowProgressiveOneVBlankWait(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	// No async page flip and no modesetting: one vertical blank wait
	// per frame, no page flips.
	err := s.Show(&Frame{Data: testFrameData(s.info), Duration: 16 * time.Millisecond})
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if dev.vblanks != 1 || dev.flips != 0 {
		t.Errorf("vblanks=%d flips=%d, want exactly one vblank wait", dev.vblanks, dev.flips)
	}
	if s.retained[0] == nil {
		t.Fatal("shown frame not retained")
	}
	if _, ok := s.retained[0].mem.(*dumbMemory); !ok {
		t.Errorf("retained %T, want the pool copy", s.retained[0].mem)
	}
	if len(dev.planeSets) != 1 {
		t.Fatalf("%d plane updates, want 1", len(dev.planeSets))
	}

	// 720x480 letterboxed into 1920x1080 preserves the 3:2 ratio.
	set := dev.planeSets[0]
	if set.planeID != 41 || set.crtcID != 11 {
		t.Errorf("plane update on plane %d crtc %d, want 41/11", set.planeID, set.crtcID)
	}
	want := Rect{X: 150, Y: 0, W: 1620, H: 1080}
	if set.dst != want {
		t.Errorf("destination %+v, want %+v", set.dst, want)
	}
	if set.src != (Rect{W: 720, H: 480}) {
		t.Errorf("source %+v, want the full frame", set.src)
	}
}

func TestShowModesettingFlips(t *testing.T) {
	dev := newFakeDevice()
	dev.crtcs[11].ModeValid = 0
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if dev.flips != 1 || dev.vblanks != 0 {
		t.Errorf("flips=%d vblanks=%d, want one page flip", dev.flips, dev.vblanks)
	}
	if len(dev.planeSets) != 0 {
		t.Errorf("%d plane updates on the modesetting path, want none", len(dev.planeSets))
	}

	// The mode-set scratch buffer is released once a real frame is
	// on screen.
	if s.scratch != nil {
		t.Error("scratch framebuffer still held after the first frame")
	}
}

func TestShowRequiresFormat(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)
	if err := s.Show(&Frame{Data: []byte{0}}); !errors.Is(err, ErrNoFormat) {
		t.Errorf("Show before SetFormat: %v, want ErrNoFormat", err)
	}
	if err := s.Show(nil); err != nil {
		t.Errorf("redisplay with nothing retained: %v, want silent success", err)
	}
	if dev.syncCount() != 0 {
		t.Errorf("%d syncs without a shown frame, want 0", dev.syncCount())
	}
}

func TestRenderRectangleFullDisplay(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)

	s.SetRenderRectangle(10, 10, 100, 100)
	s.geoMu.Lock()
	rect := s.renderRect
	s.geoMu.Unlock()
	if rect != (Rect{X: 10, Y: 10, W: 100, H: 100}) {
		t.Fatalf("render rect %+v, want the requested window", rect)
	}

	s.SetRenderRectangle(-1, -1, -1, -1)
	s.geoMu.Lock()
	rect = s.renderRect
	s.geoMu.Unlock()
	if rect != (Rect{X: 0, Y: 0, W: 1920, H: 1080}) {
		t.Errorf("render rect %+v, want the full display", rect)
	}

	// Degenerate sizes are ignored.
	s.SetRenderRectangle(0, 0, 0, 100)
	s.geoMu.Lock()
	rect = s.renderRect
	s.geoMu.Unlock()
	if rect != (Rect{X: 0, Y: 0, W: 1920, H: 1080}) {
		t.Errorf("render rect %+v changed by an empty request", rect)
	}
}

func TestShowScalingDowngrade(t *testing.T) {
	dev := newFakeDevice()
	dev.rejectScaledPlane = true
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	// One recorded update: the rejected scaled attempt is not
	// recorded by the fake, the unscaled retry is.
	if len(dev.planeSets) != 1 {
		t.Fatalf("%d accepted plane updates, want 1", len(dev.planeSets))
	}
	set := dev.planeSets[0]
	if set.src.W != set.dst.W || set.src.H != set.dst.H {
		t.Errorf("retry still scaled: src %+v dst %+v", set.src, set.dst)
	}

	s.geoMu.Lock()
	canScale := s.canScale
	s.geoMu.Unlock()
	if canScale {
		t.Error("sink still believes the plane can scale")
	}

	// The downgrade is permanent: the next frame goes out unscaled on
	// the first try.
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("second Show: %v", err)
	}
	if len(dev.planeSets) != 2 {
		t.Errorf("%d accepted plane updates, want 2", len(dev.planeSets))
	}
}

func TestShowNoScalingKeepsVideoGeometry(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithScaling(false))

	// Non-square pixels must not shrink the target when the plane
	// scans out 1:1.
	info := testVideoInfo()
	info.PARNum, info.PARDen = 8, 9
	if err := s.SetFormat(info); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if s.targetW != 720 || s.targetH != 480 {
		t.Fatalf("target %dx%d, want the video geometry 720x480", s.targetW, s.targetH)
	}

	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	set := dev.planeSets[0]
	if set.src != (Rect{W: 720, H: 480}) {
		t.Errorf("source %+v, want the full 720x480 buffer", set.src)
	}
	if set.dst != (Rect{X: 600, Y: 300, W: 720, H: 480}) {
		t.Errorf("destination %+v, want centered unscaled placement", set.dst)
	}
}

func TestShowPlaneUpdateRejected(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithScaling(false))
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	dev.setPlaneErr = errors.New("fake: plane busy")
	err := s.Show(&Frame{Data: testFrameData(s.info)})
	if !errors.Is(err, ErrPlaneUpdate) {
		t.Fatalf("Show: %v, want ErrPlaneUpdate", err)
	}

	// A frame failure does not kill the stream.
	dev.setPlaneErr = nil
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show after frame failure: %v", err)
	}
}

func TestShowOutOfRangeSkipsPlaneUpdate(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	s.SetRenderRectangle(2000, 0, 300, 300)
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(dev.planeSets) != 0 {
		t.Errorf("%d plane updates for an off-screen window, want none", len(dev.planeSets))
	}
	// The frame still syncs and is retained for a later redraw.
	if dev.vblanks != 1 || s.retained[0] == nil {
		t.Errorf("vblanks=%d retained=%v, want one sync and a retained frame",
			dev.vblanks, s.retained[0] != nil)
	}
}

func TestShowSyncTimeout(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	dev.noEvents = true
	err := s.Show(&Frame{Data: testFrameData(s.info)})
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("Show: %v, want ErrSyncTimeout", err)
	}

	dev.noEvents = false
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show after timeout: %v", err)
	}
}

func TestShowImportReusesCachedHandle(t *testing.T) {
	dev := newFakeDevice()
	dev.addDMABuf(7, 720*720)
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	dma := []DMAPlane{{FD: 7}}
	if err := s.Show(&Frame{DMA: dma}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if err := s.Show(&Frame{DMA: dma}); err != nil {
		t.Fatalf("second Show: %v", err)
	}
	if dev.importCalls != 1 {
		t.Errorf("%d prime imports for the same dma-buf, want 1", dev.importCalls)
	}
	if dev.addFB2s != 1 {
		t.Errorf("%d framebuffers for the same dma-buf, want 1", dev.addFB2s)
	}
}

func TestShowImportWithoutCapFails(t *testing.T) {
	dev := newFakeDevice()
	dev.caps.PrimeImport = false
	dev.addDMABuf(7, 720*720)
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	if err := s.Show(&Frame{DMA: []DMAPlane{{FD: 7}}}); !errors.Is(err, ErrNoMemory) {
		t.Errorf("Show: %v, want ErrNoMemory without prime import", err)
	}
}

func TestDrainCopiesImportedFrame(t *testing.T) {
	dev := newFakeDevice()
	dev.addDMABuf(7, 720*720)
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	if err := s.Show(&Frame{DMA: []DMAPlane{{FD: 7}}}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if _, ok := s.retained[0].mem.(*importMemory); !ok {
		t.Fatalf("retained %T, want the imported memory", s.retained[0].mem)
	}
	syncsBefore := dev.syncCount()

	if err := s.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if _, ok := s.retained[0].mem.(*dumbMemory); !ok {
		t.Errorf("retained %T after drain, want a sink-owned copy", s.retained[0].mem)
	}
	if len(s.imports) != 0 {
		t.Errorf("%d cached imports after drain, want none", len(s.imports))
	}
	if len(dev.closedHandles) == 0 {
		t.Error("imported handle not closed on drain")
	}
	// The copy is put back on screen.
	if dev.syncCount() != syncsBefore+1 {
		t.Errorf("%d syncs after drain, want %d", dev.syncCount(), syncsBefore+1)
	}

	// Draining sink-owned frames is a no-op.
	if err := s.Drain(); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if dev.syncCount() != syncsBefore+1 {
		t.Error("drain of sink-owned frame redrew")
	}
}

func TestExposeRedrawsRetained(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}

	s.SetRenderRectangle(0, 0, 720, 480)
	reneg, err := s.Expose()
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	if reneg {
		t.Error("scaling sink asked for renegotiation")
	}
	if len(dev.planeSets) != 2 {
		t.Fatalf("%d plane updates after expose, want 2", len(dev.planeSets))
	}
	if dst := dev.planeSets[1].dst; dst != (Rect{X: 0, Y: 0, W: 720, H: 480}) {
		t.Errorf("redraw destination %+v, want the new window", dst)
	}
}

func TestExposeWithoutScalingNeedsRenegotiation(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithScaling(false))
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}

	s.SetRenderRectangle(0, 0, 640, 360)
	reneg, err := s.Expose()
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	if !reneg {
		t.Error("resize without scaling should ask for renegotiation")
	}

	// The resize lands with the next format change.
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	s.geoMu.Lock()
	rect := s.renderRect
	s.geoMu.Unlock()
	if rect != (Rect{X: 0, Y: 0, W: 640, H: 360}) {
		t.Errorf("render rect %+v after renegotiation, want the pending resize", rect)
	}
}

func TestFieldInversionGuardRepeatsOneField(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithFieldInversionAvoidance(true))

	info := testVideoInfo()
	info.Interlace = Alternate
	if err := s.SetFormat(info); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	dur := 20 * time.Millisecond
	field := func(f Field) *Frame {
		return &Frame{Data: testFrameData(s.info), Field: f, Duration: dur}
	}

	if err := s.Show(field(FieldTop)); err != nil {
		t.Fatalf("field 1: %v", err)
	}
	dev.now = dev.now.Add(dur)
	if err := s.Show(field(FieldBottom)); err != nil {
		t.Fatalf("field 2: %v", err)
	}

	// The third field arrives with a full field period until the
	// predicted vblank: no correction.
	before := dev.syncCount()
	dev.now = dev.now.Add(dur)
	if err := s.Show(field(FieldTop)); err != nil {
		t.Fatalf("field 3: %v", err)
	}
	if got := dev.syncCount() - before; got != 1 {
		t.Errorf("%d syncs for an on-time field, want 1", got)
	}

	// The next field lands 2ms before the predicted vblank, inside
	// the guard window: exactly one repeat before the new field.
	before = dev.syncCount()
	dev.now = dev.now.Add(dur - 2*time.Millisecond)
	if err := s.Show(field(FieldBottom)); err != nil {
		t.Fatalf("late field: %v", err)
	}
	if got := dev.syncCount() - before; got != 2 {
		t.Errorf("%d syncs for a guarded field, want repeat + submit = 2", got)
	}
}

func TestFieldParityErrorRecovery(t *testing.T) {
	dev := newFakeDevice()
	dev.crtcs[11].ModeValid = 0 // modesetting, so the primary plane is resolved
	dev.addProperty(42, mode.Property{ID: 901, Name: "fid_err", Value: 1})
	s := newTestSink(t, dev, WithHoldExtraSample(true))

	info := testVideoInfo()
	info.Interlace = Alternate
	if err := s.SetFormat(info); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if s.primaryPlaneID != 42 {
		t.Fatalf("primary plane %d, want 42", s.primaryPlaneID)
	}

	dur := 20 * time.Millisecond
	field := func(f Field) *Frame {
		return &Frame{Data: testFrameData(s.info), Field: f, Duration: dur}
	}

	if err := s.Show(field(FieldTop)); err != nil {
		t.Fatalf("field 1: %v", err)
	}

	// The correction replays the second-to-last field, which only
	// exists once two fields have been shown.
	before := dev.flips
	dev.now = dev.now.Add(dur)
	if err := s.Show(field(FieldBottom)); err != nil {
		t.Fatalf("field 2: %v", err)
	}
	if got := dev.flips - before; got != 1 {
		t.Errorf("%d flips with a one-deep history, want submit only = 1", got)
	}

	before = dev.flips
	dev.now = dev.now.Add(dur)
	if err := s.Show(field(FieldTop)); err != nil {
		t.Fatalf("field 3: %v", err)
	}
	if got := dev.flips - before; got != 2 {
		t.Errorf("%d flips for the corrected field, want repeat + submit = 2", got)
	}
}

func TestStopRestoresCRTCAndReleasesBuffers(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev)
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !dev.closed {
		t.Error("device not closed")
	}
	if len(dev.liveFBs) != 0 {
		t.Errorf("%d framebuffers still registered after stop", len(dev.liveFBs))
	}
	if len(dev.dumbs) != 0 {
		t.Errorf("%d dumb buffers still allocated after stop", len(dev.dumbs))
	}

	restore := dev.crtcSets[len(dev.crtcSets)-1]
	if restore.crtcID != 11 || restore.fbID != 99 {
		t.Errorf("restore set crtc %d fb %d, want the saved 11/99", restore.crtcID, restore.fbID)
	}
	if restore.mode == nil || restore.mode.Hdisplay != 1920 {
		t.Errorf("restore mode %+v, want the saved 1920x1080", restore.mode)
	}

	if err := s.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop: %v, want ErrNotStarted", err)
	}
}

func TestStopWithoutRestoreLeavesCRTC(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithRestoreCRTC(false))
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(dev.crtcSets) != 0 {
		t.Errorf("%d crtc programs on stop, want none", len(dev.crtcSets))
	}
}

func TestShowDrawsQueuedROI(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithROIDrawing(1, [3]byte{0x00, 0x40, 0xc0}))
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	s.QueueROI(ROIBatch{Seq: 3, Rects: []ROIRect{{X: 16, Y: 16, W: 64, H: 48}}})
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("Show: %v", err)
	}

	mem := s.retained[0].mem
	chroma := mem.Bytes()[mem.Offsets()[1]:]
	stride := int(mem.Pitches()[1])
	// Top-left corner of the rectangle in the chroma plane.
	if chroma[8*stride+16] != 0x40 || chroma[8*stride+17] != 0xc0 {
		t.Errorf("chroma corner %#x %#x, want the roi color",
			chroma[8*stride+16], chroma[8*stride+17])
	}

	// The batch is consumed by exactly one frame.
	if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
		t.Fatalf("second Show: %v", err)
	}
	mem = s.retained[0].mem
	chroma = mem.Bytes()[mem.Offsets()[1]:]
	if chroma[8*stride+16] != 0 {
		t.Error("consumed roi batch drawn again")
	}
}

func TestHandleSEIQueuesBatch(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithROIDrawing(1, [3]byte{0, 0x40, 0xc0}))

	payload := make([]byte, 12+16)
	payload[0] = 9 // sequence
	payload[8] = 1 // one rectangle
	payload[20] = 32
	payload[24] = 16
	if err := s.HandleSEI(seiROIPayloadType, payload); err != nil {
		t.Fatalf("HandleSEI: %v", err)
	}
	batch := s.takeROI()
	if batch == nil || batch.Seq != 9 || len(batch.Rects) != 1 {
		t.Fatalf("queued batch %+v, want seq 9 with one rect", batch)
	}
	if s.takeROI() != nil {
		t.Error("batch not consumed by takeROI")
	}

	if err := s.HandleSEI(5, payload); !errors.Is(err, ErrBadROIPayload) {
		t.Errorf("HandleSEI with wrong type: %v, want ErrBadROIPayload", err)
	}
}

func TestTimestampCorrectionRewritesPTS(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithTimestampCorrection(true))
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	dur := 20 * time.Millisecond
	f1 := &Frame{Data: testFrameData(s.info), PTS: 100 * time.Millisecond, Duration: dur}
	if err := s.Show(f1); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if f1.PTS != 100*time.Millisecond {
		t.Errorf("first pts %v, want passthrough", f1.PTS)
	}

	// Vblanks land 21ms apart while the stream advances 20ms: the
	// next timestamp follows the observed vblank cadence.
	dev.now = dev.now.Add(21 * time.Millisecond)
	f2 := &Frame{Data: testFrameData(s.info), PTS: 120 * time.Millisecond, Duration: dur}
	if err := s.Show(f2); err != nil {
		t.Fatalf("second Show: %v", err)
	}
	dev.now = dev.now.Add(21 * time.Millisecond)
	f3 := &Frame{Data: testFrameData(s.info), PTS: 140 * time.Millisecond, Duration: dur}
	if err := s.Show(f3); err != nil {
		t.Fatalf("third Show: %v", err)
	}
	if f3.PTS != f2.PTS+21*time.Millisecond {
		t.Errorf("corrected pts %v, want %v from the vblank delta",
			f3.PTS, f2.PTS+21*time.Millisecond)
	}
}

func TestRetainedHistoryDepth(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSink(t, dev, WithHoldExtraSample(true))
	if err := s.SetFormat(testVideoInfo()); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Show(&Frame{Data: testFrameData(s.info)}); err != nil {
			t.Fatalf("Show %d: %v", i, err)
		}
	}
	if s.retained[0] == nil || s.retained[1] == nil {
		t.Fatal("hold-extra-sample sink should retain two frames")
	}
	if s.retained[0].mem == s.retained[1].mem {
		t.Error("retained history holds the same buffer twice")
	}

	// Retired pool buffers are recycled, not freed: three frames fit
	// in retained-depth+1 allocations.
	if got := len(dev.dumbs); got != 3 {
		t.Errorf("%d dumb buffers allocated, want 3 (two retained + one in rotation)", got)
	}
}
