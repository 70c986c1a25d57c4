package kmsink

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TimeNone marks an absent timestamp or duration. The zero Duration
// is a valid timestamp, so absence needs an explicit sentinel.
const TimeNone time.Duration = math.MinInt64

type (
	// Rect is a rectangle in display or frame pixels.
	Rect struct {
		X, Y int32
		W, H uint32
	}

	// DMAPlane points at one plane of an imported dma-buf frame.
	// Stride 0 means tightly packed at the frame width; planes
	// beyond the ones listed share the first descriptor's buffer at
	// layout-derived offsets.
	DMAPlane struct {
		FD     int
		Offset uint32
		Stride uint32
	}

	// Frame is one unit of video handed to Show. Exactly one of Mem,
	// DMA or Data carries the pixels: memory from the sink's
	// allocator, dma-buf plane descriptors to import, or raw
	// tightly-packed bytes to copy.
	//
	// Show takes ownership of Mem; the caller must not touch it
	// afterwards.
	Frame struct {
		// TraceID tags log entries for this frame. Zero means Show
		// assigns one.
		TraceID uuid.UUID

		// PTS is rewritten in place when timestamp correction is
		// enabled. Use TimeNone when the stream carries none.
		PTS      time.Duration
		Duration time.Duration

		// Field is set for Alternate streams only.
		Field Field

		// Crop selects a sub-rectangle of the frame for display.
		Crop *Rect

		Mem  Memory
		DMA  []DMAPlane
		Data []byte
	}
)

// Memory is pixel storage the sink can bind to a framebuffer.
type Memory interface {
	Info() VideoInfo
	Handles() [4]uint32
	Pitches() [4]uint32
	Offsets() [4]uint32

	// Bytes is the CPU mapping of the whole buffer, nil when the
	// memory is not mapped.
	Bytes() []byte
}
