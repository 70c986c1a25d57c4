package kmsink

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NeowayLabs/kmsink/drm/mode"
)

// Sink presents video frames on a KMS plane.
type Sink struct {
	cfg config
	log zerolog.Logger

	dev    device
	driver string
	caps   deviceCaps
	alloc  Allocator

	connID    uint32
	mmWidth   uint32
	mmHeight  uint32
	mainPanel bool

	crtcID         uint32
	pipe           int
	planeID        uint32
	primaryPlaneID uint32
	planeFormats   []uint32
	savedCRTC      *mode.Crtc

	universalPlanes bool
	modesetting     bool

	// geoMu guards the display geometry shared with the UI-facing
	// methods.
	geoMu       sync.Mutex
	hdisplay    uint16
	vdisplay    uint16
	renderRect  Rect
	pendingRect *Rect
	reconfigure bool
	canScale    bool

	// streamMu serializes the streaming methods.
	streamMu sync.Mutex
	started  bool
	info     VideoInfo
	haveInfo bool
	targetW  int
	targetH  int
	modeKey  VideoInfo
	modeSet  bool
	scratch  Memory
	fbs      *fbCache
	pool     []Memory
	imports  map[int]importEntry
	fbID     uint32
	retained [2]*retainedFrame
	timing   fieldTiming

	roiMu sync.Mutex
	roi   *ROIBatch

	nowFn func() time.Time
}

// retainedFrame is a shown frame kept alive while the hardware may
// still scan it out, and for redisplay and repeat submissions.
type retainedFrame struct {
	mem      Memory
	info     VideoInfo
	width    int
	height   int
	field    Field
	oneField bool
	crop     *Rect
	duration time.Duration
	traceID  uuid.UUID
}

type importEntry struct {
	mem    Memory
	planes []DMAPlane
}

// Start opens the DRM device, binds a connector, CRTC and plane, and
// leaves the sink ready for SetFormat. Nothing of a failed Start is
// kept.
func (s *Sink) Start() error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.started {
		return ErrStarted
	}

	opened := false
	if s.dev == nil {
		dev, driver, err := openDevice(s.cfg)
		if err != nil {
			return err
		}
		s.dev = dev
		s.driver = driver
		opened = true
	}
	if err := s.start(); err != nil {
		if opened {
			s.dev.Close()
			s.dev = nil
		}
		return err
	}
	return nil
}

func (s *Sink) start() error {
	s.caps = s.dev.Caps()
	if !s.caps.DumbBuffer {
		return ErrNoDumbBuffer
	}

	res, err := s.dev.Resources()
	if err != nil {
		return err
	}

	conn, err := s.pickConnector(res)
	if err != nil {
		return err
	}
	s.connID = conn.ID
	s.mmWidth = conn.Width
	s.mmHeight = conn.Height
	s.mainPanel = isPanel(conn.Type)

	crtcID, pipe, err := s.pickCRTC(res, conn)
	if err != nil {
		return err
	}
	s.crtcID = crtcID
	s.pipe = pipe

	crtc, err := s.dev.CRTC(crtcID)
	if err != nil {
		return err
	}
	s.fbID = crtc.BufferID
	if s.cfg.restoreCRTC {
		s.savedCRTC = crtc
	}

	s.geoMu.Lock()
	s.hdisplay, s.vdisplay = 0, 0
	if crtc.ModeValid != 0 {
		s.hdisplay = crtc.Mode.Hdisplay
		s.vdisplay = crtc.Mode.Vdisplay
	}
	s.renderRect = Rect{W: uint32(s.hdisplay), H: uint32(s.vdisplay)}
	s.pendingRect = nil
	s.reconfigure = false
	s.canScale = s.cfg.canScale
	s.geoMu.Unlock()

	s.modesetting = (crtc.ModeValid == 0 || s.cfg.forceModeset) && !s.cfg.fullscreen

	if (s.modesetting || s.cfg.fullscreen) && !s.universalPlanes {
		if err := s.dev.SetUniversalPlanes(); err == nil {
			s.universalPlanes = true
		} else {
			s.log.Warn().Err(err).Msg("cannot enable universal planes")
		}
	}

	plane, err := s.pickPlane(pipe)
	if err != nil {
		return err
	}
	s.planeID = plane.ID
	s.planeFormats = plane.Formats

	s.primaryPlaneID = 0
	if s.universalPlanes {
		s.primaryPlaneID = s.findPrimaryPlane(pipe)
	}

	s.alloc = s.cfg.alloc
	if s.alloc == nil {
		s.alloc = &dumbAllocator{dev: s.dev}
	}
	s.fbs = newFBCache(s.dev)
	s.imports = make(map[int]importEntry)
	s.timing.reset()
	s.modeSet = false
	s.haveInfo = false

	s.applyProperties(s.connID, mode.ObjectConnector, s.cfg.connectorProps)
	s.applyProperties(s.planeID, mode.ObjectPlane, s.cfg.planeProps)

	s.started = true
	s.log.Info().
		Str("driver", s.driver).
		Uint32("connector", s.connID).
		Bool("panel", s.mainPanel).
		Uint32("crtc", s.crtcID).
		Int("pipe", s.pipe).
		Uint32("plane", s.planeID).
		Bool("modesetting", s.modesetting).
		Msg("started")
	return nil
}

// Stop releases every buffer, restores the CRTC found at Start when
// configured to, and closes the device.
func (s *Sink) Stop() error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	s.dropAllRetained()
	s.clearImports()
	for _, mem := range s.pool {
		s.releaseMemory(mem)
	}
	s.pool = nil
	if s.scratch != nil {
		s.releaseMemory(s.scratch)
		s.scratch = nil
	}
	s.fbs.clear()

	if s.cfg.fullscreen && s.primaryPlaneID != 0 {
		if err := s.setPlaneProperty(s.primaryPlaneID, "alpha", 255); err != nil {
			s.log.Warn().Err(err).Msg("cannot restore primary plane alpha")
		}
	}
	if s.cfg.restoreCRTC && s.savedCRTC != nil {
		saved := s.savedCRTC
		var m *mode.Info
		if saved.ModeValid != 0 {
			m = &saved.Mode
		}
		if err := s.dev.SetCRTC(saved.ID, saved.BufferID, saved.X, saved.Y, s.connID, m); err != nil {
			s.log.Warn().Err(err).Msg("cannot restore crtc")
		}
		s.savedCRTC = nil
	}

	err := s.dev.Close()
	s.dev = nil
	s.universalPlanes = false

	s.started = false
	s.haveInfo = false
	s.modeSet = false
	s.targetW, s.targetH = 0, 0
	s.timing.reset()

	s.geoMu.Lock()
	s.hdisplay, s.vdisplay = 0, 0
	s.renderRect = Rect{}
	s.pendingRect = nil
	s.reconfigure = false
	s.geoMu.Unlock()

	s.log.Info().Msg("stopped")
	return err
}

// SupportedFormats lists the pixel formats the bound plane accepts.
func (s *Sink) SupportedFormats() []PixelFormat {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	out := make([]PixelFormat, 0, len(s.planeFormats))
	for _, f := range s.planeFormats {
		if pf := PixelFormat(f); pf.known() {
			out = append(out, pf)
		}
	}
	return out
}

// SetFormat declares the geometry of the frames that follow,
// configuring the CRTC mode when the sink owns modesetting. On
// failure the previous format stays in effect.
func (s *Sink) SetFormat(info VideoInfo) error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if info.Width <= 0 || info.Height <= 0 || !info.Format.known() {
		return ErrNoFormat
	}
	if len(s.planeFormats) > 0 && !formatSupported(s.planeFormats, info.Format) {
		return fmt.Errorf("%w: plane does not take %s", ErrNoFormat, info.Format)
	}
	info = info.withDefaults()

	// The ratio math comes first: a bad geometry must reject the
	// format before any mode is programmed.
	w, h, err := s.displayTarget(info)
	if err != nil {
		return err
	}
	if w <= 0 || h <= 0 {
		return ErrRatio
	}

	if s.modesetting {
		if err := s.applyMode(info); err != nil {
			return err
		}
	}
	if s.cfg.fullscreen {
		if err := s.sizeCRTCToVideo(info); err != nil {
			return err
		}
	}
	if !s.modesetting && !s.cfg.fullscreen && info.Interlace == Alternate {
		if err := s.applyMode(info); err != nil {
			return err
		}
	}

	s.dropAllRetained()
	for _, mem := range s.pool {
		s.releaseMemory(mem)
	}
	s.pool = nil
	s.clearImports()

	s.applyProperties(s.connID, mode.ObjectConnector, s.cfg.connectorProps)
	s.applyProperties(s.planeID, mode.ObjectPlane, s.cfg.planeProps)

	s.info = info
	s.haveInfo = true
	s.targetW = w
	s.targetH = h

	s.geoMu.Lock()
	if s.reconfigure {
		s.reconfigure = false
		if s.pendingRect != nil {
			s.renderRect = *s.pendingRect
		}
	}
	s.geoMu.Unlock()

	s.log.Info().
		Stringer("format", info.Format).
		Int("width", info.Width).
		Int("height", info.Height).
		Stringer("interlace", info.Interlace).
		Int("targetW", w).
		Int("targetH", h).
		Msg("format set")
	return nil
}

// Show presents a frame, blocking until the display picks it up.
// Passing nil shows the last frame again. The sink owns the frame's
// memory afterwards.
func (s *Sink) Show(frame *Frame) error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	return s.show(frame)
}

func (s *Sink) show(frame *Frame) error {
	var (
		mem           Memory
		field         Field
		oneField      bool
		crop          *Rect
		duration      time.Duration
		info          VideoInfo
		width, height int
		traceID       uuid.UUID
		redisplay     bool
	)

	if frame != nil {
		if !s.haveInfo {
			return ErrNoFormat
		}
		m, err := s.resolveInput(frame)
		if err != nil {
			return err
		}
		mem = m
		field = frame.Field
		crop = frame.Crop
		duration = frame.Duration
		info = s.info
		width, height = s.targetW, s.targetH
		oneField = info.Interlace == Alternate && field != FieldNone
		if frame.TraceID == uuid.Nil {
			frame.TraceID = uuid.New()
		}
		traceID = frame.TraceID
	} else {
		redisplay = true
		last := s.retained[0]
		if last == nil {
			return nil
		}
		mem = last.mem
		field = last.field
		oneField = last.oneField
		crop = last.crop
		duration = last.duration
		info = last.info
		width, height = last.width, last.height
		traceID = last.traceID
	}

	log := s.log.With().Stringer("trace", traceID).Logger()

	if frame != nil && s.cfg.doTimestamp {
		old := frame.PTS
		frame.PTS = s.timing.correct(frame.PTS, frame.Duration)
		if frame.PTS != old {
			log.Debug().Dur("from", old).Dur("to", frame.PTS).Msg("timestamp corrected")
		}
	}

	if frame != nil && s.cfg.roiThickness > 0 {
		if batch := s.takeROI(); batch != nil {
			s.drawROI(log, mem, batch)
		}
	}

	if info.Interlace != Progressive {
		s.avoidFieldInversion(log)
		s.fixFieldInversion(log, field, oneField)
	}

	fbID, err := s.fbs.bind(mem, fieldFlags(info.Interlace, field))
	if err != nil {
		return err
	}

	if s.modesetting {
		s.fbID = fbID
	} else if err := s.updatePlane(log, fbID, mem, crop, width, height); err != nil {
		return err
	}

	if err := s.sync(); err != nil {
		return err
	}
	s.timing.recordVBlank(s.nowFn())

	if !redisplay {
		s.rotate(&retainedFrame{
			mem:      mem,
			info:     info,
			width:    width,
			height:   height,
			field:    field,
			oneField: oneField,
			crop:     crop,
			duration: duration,
			traceID:  traceID,
		})
	}

	// The scratch buffer shown by the mode set is off screen once
	// the first real frame flips in.
	if s.modeSet && s.scratch != nil && s.retained[0] != nil && s.retained[0].mem != s.scratch {
		s.releaseMemory(s.scratch)
		s.scratch = nil
	}
	return nil
}

// resolveInput turns the frame's payload into displayable memory.
// Imports are cached per file descriptor and reused while upstream
// keeps sending the same buffers.
func (s *Sink) resolveInput(frame *Frame) (Memory, error) {
	switch {
	case frame.Mem != nil:
		return frame.Mem, nil

	case len(frame.DMA) > 0:
		if !s.caps.PrimeImport {
			return nil, ErrNoMemory
		}
		fd := frame.DMA[0].FD
		if entry, ok := s.imports[fd]; ok {
			if samePlanes(entry.planes, frame.DMA) {
				return entry.mem, nil
			}
			delete(s.imports, fd)
			s.releaseMemory(entry.mem)
		}
		mem, err := s.alloc.Import(frame.DMA, s.info)
		if err != nil {
			return nil, err
		}
		s.imports[fd] = importEntry{
			mem:    mem,
			planes: append([]DMAPlane(nil), frame.DMA...),
		}
		return mem, nil

	case frame.Data != nil:
		dst, err := s.poolGet()
		if err != nil {
			return nil, err
		}
		if err := copyData(dst, frame.Data, s.info); err != nil {
			s.pool = append(s.pool, dst)
			return nil, err
		}
		return dst, nil
	}
	return nil, ErrNoMemory
}

func samePlanes(a, b []DMAPlane) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatSupported(formats []uint32, f PixelFormat) bool {
	for _, ff := range formats {
		if PixelFormat(ff) == f {
			return true
		}
	}
	return false
}

// fieldFlags maps the stream's interlacing and the buffer's field
// parity to framebuffer flags.
func fieldFlags(interlace InterlaceMode, field Field) uint32 {
	switch interlace {
	case Interleaved:
		return mode.FBInterlaced
	case Alternate:
		switch field {
		case FieldTop:
			return mode.FBAlternateTop
		case FieldBottom:
			return mode.FBAlternateBottom
		}
	}
	return 0
}

// updatePlane positions the frame on the overlay plane, centering
// and scaling it into the render rectangle. When the driver rejects
// a scaled update the sink falls back to unscaled output for the
// rest of its life.
func (s *Sink) updatePlane(log zerolog.Logger, fbID uint32, mem Memory, crop *Rect, scaledW, scaledH int) error {
	s.geoMu.Lock()
	rr := s.renderRect
	hdisplay, vdisplay := s.hdisplay, s.vdisplay
	canScale := s.canScale
	s.geoMu.Unlock()

	info := mem.Info()
	src := Rect{W: uint32(scaledW), H: uint32(scaledH)}
	if crop != nil {
		ci := info
		ci.Width = int(crop.W)
		ci.Height = int(crop.H)
		w, h, err := s.displayTarget(ci)
		if err != nil || w <= 0 || h <= 0 {
			return ErrRatio
		}
		src = Rect{X: crop.X, Y: crop.Y, W: uint32(w), H: uint32(h)}
	}
	dst := Rect{W: rr.W, H: rr.H}

	for attempt := 0; ; attempt++ {
		result := centerRect(src, dst, canScale)
		result.X += rr.X
		result.Y += rr.Y

		srcRect := Rect{X: src.X, Y: src.Y, W: uint32(info.Width), H: uint32(info.FieldHeight())}
		if crop != nil {
			srcRect.W, srcRect.H = crop.W, crop.H
		}

		clipped, visible := clipToDisplay(result, hdisplay, vdisplay)
		if !visible {
			log.Warn().Msg("video is out of display range")
			return nil
		}
		result = clipped

		if !canScale {
			srcRect.W, srcRect.H = result.W, result.H
		}

		err := s.dev.SetPlane(s.planeID, s.crtcID, fbID, result, srcRect)
		if err == nil {
			log.Trace().
				Int32("x", result.X).Int32("y", result.Y).
				Uint32("w", result.W).Uint32("h", result.H).
				Msg("plane updated")
			return nil
		}
		if canScale && attempt == 0 {
			log.Debug().Err(err).Msg("scaled plane update failed, retrying unscaled")
			canScale = false
			s.geoMu.Lock()
			s.canScale = false
			s.geoMu.Unlock()
			continue
		}
		return fmt.Errorf("%w: %v", ErrPlaneUpdate, err)
	}
}

// avoidFieldInversion repeats the previously shown field when the
// incoming one lands too close to the next vblank, which would
// otherwise present it one field early and invert the field order.
func (s *Sink) avoidFieldInversion(log zerolog.Logger) {
	if !s.cfg.avoidInversion {
		return
	}
	last := s.retained[0]
	if last == nil || s.timing.prevLastVBlank.IsZero() {
		return
	}
	if last.duration == TimeNone || last.duration <= 0 {
		return
	}
	pred := s.timing.nextVsyncIn(s.nowFn(), last.duration)
	if pred == 0 || pred >= vsyncGuard {
		return
	}

	repeat := last
	if prev := s.retained[1]; prev != nil && prev.oneField {
		repeat = prev
	}
	if !repeat.oneField {
		return
	}
	log.Debug().Dur("untilVsync", pred).Msg("repeating field to keep parity")
	s.submitRepeat(log, repeat, fieldFlags(repeat.info.Interlace, repeat.field))
}

// fixFieldInversion repeats the opposite field when the driver
// reports inverted field order through the plane's fid_err property.
func (s *Sink) fixFieldInversion(log zerolog.Logger, field Field, oneField bool) {
	if !oneField {
		return
	}
	val, ok := s.planePropertyValue(s.primaryPlaneID, "fid_err")
	if !ok || val != 1 {
		return
	}
	prev := s.retained[1]
	if prev == nil {
		return
	}
	flags := uint32(mode.FBAlternateTop)
	if field == FieldTop {
		flags = mode.FBAlternateBottom
	}
	log.Debug().Msg("field order inverted, repeating opposite field")
	s.submitRepeat(log, prev, flags)

	// fid_err looks level-triggered; re-read instead of assuming the
	// repeat cleared it.
	if val, ok := s.planePropertyValue(s.primaryPlaneID, "fid_err"); ok && val == 1 {
		log.Warn().Msg("field order still inverted after repeat")
	}
}

// submitRepeat flips an already retained buffer once more. Repeats
// are corrective and never update the vblank bookkeeping; failures
// only cost the correction.
func (s *Sink) submitRepeat(log zerolog.Logger, rf *retainedFrame, flags uint32) {
	fbID, err := s.fbs.bind(rf.mem, flags)
	if err != nil {
		log.Debug().Err(err).Msg("cannot bind repeat framebuffer")
		return
	}
	s.fbID = fbID
	if err := s.sync(); err != nil {
		log.Debug().Err(err).Msg("repeat submission failed")
	}
}

// rotate retires the oldest retained frame and retains rf as the
// newest. A buffer shown twice in a row only refreshes metadata.
func (s *Sink) rotate(rf *retainedFrame) {
	last, prev := s.retained[0], s.retained[1]
	if last != nil && last.mem == rf.mem {
		s.retained[0] = rf
		return
	}

	var evict *retainedFrame
	if s.retainedDepth() > 1 {
		evict = prev
		s.retained[1] = last
	} else {
		evict = last
		s.retained[1] = nil
	}
	s.retained[0] = rf

	if evict != nil && evict.mem != rf.mem &&
		(s.retained[1] == nil || s.retained[1].mem != evict.mem) {
		s.recycleOrRelease(evict.mem)
	}
}

func (s *Sink) retainedDepth() int {
	if s.cfg.holdExtraSample {
		return 2
	}
	return 1
}

func (s *Sink) poolCap() int { return s.retainedDepth() + 1 }

func (s *Sink) poolGet() (Memory, error) {
	for len(s.pool) > 0 {
		mem := s.pool[len(s.pool)-1]
		s.pool = s.pool[:len(s.pool)-1]
		if mem.Info() == s.info {
			return mem, nil
		}
		s.releaseMemory(mem)
	}
	return s.alloc.Allocate(s.info)
}

// recycleOrRelease returns a retired buffer to the pool when it can
// back another frame of the current format. Imported buffers belong
// to the import cache and are left alone.
func (s *Sink) recycleOrRelease(mem Memory) {
	if s.isImported(mem) {
		return
	}
	if s.haveInfo && mem.Info() == s.info && len(s.pool) < s.poolCap() {
		s.pool = append(s.pool, mem)
		return
	}
	s.releaseMemory(mem)
}

func (s *Sink) isImported(mem Memory) bool {
	for _, entry := range s.imports {
		if entry.mem == mem {
			return true
		}
	}
	return false
}

func (s *Sink) releaseMemory(mem Memory) {
	s.fbs.drop(mem)
	s.alloc.Release(mem)
}

func (s *Sink) clearImports() {
	for fd, entry := range s.imports {
		delete(s.imports, fd)
		s.releaseMemory(entry.mem)
	}
}

func (s *Sink) dropAllRetained() {
	var mems []Memory
	for i, rf := range s.retained {
		if rf != nil {
			mems = append(mems, rf.mem)
		}
		s.retained[i] = nil
	}
	if len(mems) == 2 && mems[0] == mems[1] {
		mems = mems[:1]
	}
	for _, mem := range mems {
		if s.isImported(mem) {
			continue
		}
		s.releaseMemory(mem)
	}
}

// Drain copies the last shown frame out of imported memory into the
// sink's own buffers and drops every import, so upstream can reclaim
// its dma-bufs while the picture stays on screen.
func (s *Sink) Drain() error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	last := s.retained[0]
	if last == nil || !s.isImported(last.mem) {
		return nil
	}

	src := last.mem
	if src.Bytes() == nil {
		im, ok := src.(*importMemory)
		if !ok {
			return nil
		}
		if err := im.ensureMapped(); err != nil {
			return err
		}
	}

	dst, err := s.poolGet()
	if err != nil {
		return err
	}
	copyPlanes(dst, src)
	last.mem = dst

	if prev := s.retained[1]; prev != nil && s.isImported(prev.mem) {
		s.retained[1] = nil
	}
	s.clearImports()
	return s.show(nil)
}

// DisplaySize reports the current display extent in pixels. Zero
// until a mode is known.
func (s *Sink) DisplaySize() (int, int) {
	s.geoMu.Lock()
	defer s.geoMu.Unlock()
	return int(s.hdisplay), int(s.vdisplay)
}

// SetRenderRectangle moves the video window. Width and height of -1
// restore the full display. Without hardware scaling a resize only
// takes effect on the next format change.
func (s *Sink) SetRenderRectangle(x, y, w, h int) {
	s.geoMu.Lock()
	defer s.geoMu.Unlock()

	if w == -1 && h == -1 {
		x, y = 0, 0
		w, h = int(s.hdisplay), int(s.vdisplay)
	}
	if w <= 0 || h <= 0 {
		s.log.Debug().Int("w", w).Int("h", h).Msg("ignoring empty render rectangle")
		return
	}

	r := Rect{X: int32(x), Y: int32(y), W: uint32(w), H: uint32(h)}
	s.pendingRect = &r
	if s.canScale || (s.renderRect.W == r.W && s.renderRect.H == r.H) {
		s.renderRect = r
		return
	}
	s.reconfigure = true
	s.log.Debug().Msg("render rectangle resize waiting for new format")
}

// Expose redraws the last frame, applying any pending render
// rectangle move. The returned flag tells the caller a new format
// negotiation is needed before a pending resize can take effect.
func (s *Sink) Expose() (bool, error) {
	s.geoMu.Lock()
	renegotiate := !s.canScale && s.reconfigure
	if !renegotiate && s.pendingRect != nil {
		s.renderRect = *s.pendingRect
	}
	s.geoMu.Unlock()

	err := s.Show(nil)
	return renegotiate, err
}

// QueueROI stores a batch of regions to draw on the next frame,
// replacing any batch not yet consumed.
func (s *Sink) QueueROI(batch ROIBatch) {
	s.roiMu.Lock()
	s.roi = &batch
	s.roiMu.Unlock()
}

// HandleSEI parses an SEI payload and queues the regions it carries.
func (s *Sink) HandleSEI(payloadType uint32, data []byte) error {
	batch, err := ParseROIPayload(payloadType, data)
	if err != nil {
		return err
	}
	s.QueueROI(batch)
	return nil
}

func (s *Sink) takeROI() *ROIBatch {
	s.roiMu.Lock()
	batch := s.roi
	s.roi = nil
	s.roiMu.Unlock()
	return batch
}

func (s *Sink) drawROI(log zerolog.Logger, mem Memory, batch *ROIBatch) {
	if mem.Info().Format.chromaVerticalSub() == 0 {
		log.Info().Stringer("format", mem.Info().Format).
			Msg("roi drawing not supported for format")
		return
	}
	if mem.Bytes() == nil {
		im, ok := mem.(*importMemory)
		if !ok {
			log.Info().Msg("roi drawing needs mappable memory")
			return
		}
		if err := im.ensureMapped(); err != nil {
			log.Info().Err(err).Msg("cannot map dma-buf for roi drawing")
			return
		}
	}
	skipped := applyROI(mem, batch.Rects, int(s.cfg.roiThickness), s.cfg.roiColor)
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Uint32("seq", batch.Seq).
			Msg("roi rectangles skipped")
	}
}
