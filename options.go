package kmsink

import (
	"time"

	"github.com/rs/zerolog"
)

type config struct {
	driverName  string
	cardNumber  int
	connectorID uint32
	planeID     uint32

	forceModeset    bool
	restoreCRTC     bool
	canScale        bool
	fullscreen      bool
	forceNTSCTV     bool
	holdExtraSample bool
	doTimestamp     bool
	avoidInversion  bool

	connectorProps map[string]uint64
	planeProps     map[string]uint64

	roiThickness uint32
	roiColor     [3]byte

	alloc Allocator
	log   zerolog.Logger
}

// Option configures a Sink before Start.
type Option func(*config)

// WithDriver opens the DRM device registered under the given driver
// name instead of probing for one.
func WithDriver(name string) Option {
	return func(c *config) { c.driverName = name }
}

// WithCard opens /dev/dri/card<n> instead of probing for a device.
func WithCard(n int) Option {
	return func(c *config) { c.cardNumber = n }
}

// WithConnector pins the output to a connector id instead of letting
// the sink pick one.
func WithConnector(id uint32) Option {
	return func(c *config) { c.connectorID = id }
}

// WithPlane pins the sink to a plane id instead of letting it pick
// the first usable overlay.
func WithPlane(id uint32) Option {
	return func(c *config) { c.planeID = id }
}

// WithForceModesetting makes the sink program a CRTC mode for every
// stream even when the CRTC already has one.
func WithForceModesetting(force bool) Option {
	return func(c *config) { c.forceModeset = force }
}

// WithRestoreCRTC restores the CRTC configuration found at Start
// when the sink stops. On by default.
func WithRestoreCRTC(restore bool) Option {
	return func(c *config) { c.restoreCRTC = restore }
}

// WithScaling allows the plane to scale the video to the render
// rectangle. On by default; the sink also drops back to unscaled
// output on its own when the driver rejects a scaled update.
func WithScaling(scale bool) Option {
	return func(c *config) { c.canScale = scale }
}

// WithFullscreenOverlay resizes the CRTC to the video geometry on
// every new format and hides the primary plane, so the overlay owns
// the whole screen.
func WithFullscreenOverlay(fullscreen bool) Option {
	return func(c *config) { c.fullscreen = fullscreen }
}

// WithForceNTSCTV retargets 480-line streams to the 720x486 NTSC TV
// mode. Only meaningful together with modesetting.
func WithForceNTSCTV(force bool) Option {
	return func(c *config) { c.forceNTSCTV = force }
}

// WithHoldExtraSample keeps the previous frame alive alongside the
// current one, for drivers that still scan the old buffer out while
// the new one is queued.
func WithHoldExtraSample(hold bool) Option {
	return func(c *config) { c.holdExtraSample = hold }
}

// WithTimestampCorrection rewrites frame timestamps to follow the
// observed vblank cadence while the stream stays close to its
// nominal rate.
func WithTimestampCorrection(correct bool) Option {
	return func(c *config) { c.doTimestamp = correct }
}

// WithFieldInversionAvoidance repeats a field when a one-field frame
// would land too close to the next vblank to be picked up in order.
// Implies holding an extra sample.
func WithFieldInversionAvoidance(avoid bool) Option {
	return func(c *config) { c.avoidInversion = avoid }
}

// WithConnectorProperties sets DRM properties on the connector at
// Start and on every new format. Keys use dashes where the kernel
// property name has other punctuation.
func WithConnectorProperties(props map[string]uint64) Option {
	return func(c *config) { c.connectorProps = props }
}

// WithPlaneProperties sets DRM properties on the plane at Start and
// on every new format.
func WithPlaneProperties(props map[string]uint64) Option {
	return func(c *config) { c.planeProps = props }
}

// WithROIDrawing draws queued region-of-interest rectangles into
// each frame before display, with the given outline thickness in
// chroma samples and YUV color. Thickness zero disables drawing and
// is clamped at five.
func WithROIDrawing(thickness uint32, yuv [3]byte) Option {
	return func(c *config) {
		if thickness > 5 {
			thickness = 5
		}
		c.roiThickness = thickness
		c.roiColor = yuv
	}
}

// WithAllocator replaces the dumb buffer allocator backing pool
// frames, scratch buffers and dma-buf imports.
func WithAllocator(alloc Allocator) Option {
	return func(c *config) { c.alloc = alloc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) { c.log = log }
}

// New builds a Sink. The device is not touched until Start.
func New(opts ...Option) *Sink {
	cfg := config{
		cardNumber:  -1,
		restoreCRTC: true,
		canScale:    true,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.avoidInversion {
		cfg.holdExtraSample = true
	}
	return &Sink{
		cfg:   cfg,
		log:   cfg.log,
		nowFn: time.Now,
	}
}
