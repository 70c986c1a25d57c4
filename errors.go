package kmsink

import "errors"

// Startup errors abort Start with no partial state retained. Format
// errors reject the new geometry and keep the previous configuration.
// Frame errors drop the individual frame; the stream continues.
var (
	ErrNotStarted = errors.New("kmsink: not started")
	ErrStarted    = errors.New("kmsink: already started")

	ErrNoDumbBuffer = errors.New("kmsink: device has no dumb buffer support")
	ErrNoConnector  = errors.New("kmsink: no usable connector")
	ErrNoCRTC       = errors.New("kmsink: no crtc for connector")
	ErrNoPlane      = errors.New("kmsink: no plane for crtc")

	ErrNoFormat = errors.New("kmsink: no format configured")
	ErrNoMode   = errors.New("kmsink: no display mode matches the video")
	ErrModeSet  = errors.New("kmsink: mode set rejected")
	ErrRatio    = errors.New("kmsink: display ratio overflow")

	ErrNoMemory      = errors.New("kmsink: frame carries no usable memory")
	ErrPlaneUpdate   = errors.New("kmsink: plane update rejected")
	ErrSyncTimeout   = errors.New("kmsink: vblank wait timed out")
	ErrBadROIPayload = errors.New("kmsink: malformed roi payload")
)
