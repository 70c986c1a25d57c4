package drm

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/NeowayLabs/kmsink/drm/ioctl"
)

// Vblank request type bits, from the drm_vblank_seq_type enum.
const (
	VBlankAbsolute  = 0x0
	VBlankRelative  = 0x1
	VBlankEvent     = 0x4000000
	VBlankSecondary = 0x20000000

	VBlankHighCrtcShift = 1
	VBlankHighCrtcMask  = 0x3e
)

// Event types delivered on the card node.
const (
	EventVBlank       = 0x01
	EventFlipComplete = 0x02
)

const (
	eventHeaderLen = 8
	eventVBlankLen = 32
)

type (
	// The wait_vblank ioctl takes a union; the reply layout is the
	// larger arm and the request's signal field overlays tvalSec.
	sysWaitVBlank struct {
		typ      uint32
		sequence uint32
		tvalSec  int64
		tvalUsec int64
	}

	// Event is one entry drained from the card's event queue.
	// Timestamp and Sequence are only meaningful for EventVBlank and
	// EventFlipComplete.
	Event struct {
		Type      uint32
		UserData  uint64
		Timestamp time.Time
		Sequence  uint32
		CrtcID    uint32
	}
)

// PipeVBlankType folds a crtc pipe index into a vblank request type
// the way libdrm does: pipe 1 uses the legacy secondary bit, higher
// pipes go through the high-crtc field.
func PipeVBlankType(pipe int, typ uint32) uint32 {
	if pipe == 1 {
		return typ | VBlankSecondary
	}
	if pipe > 1 {
		return typ | ((uint32(pipe) << VBlankHighCrtcShift) & VBlankHighCrtcMask)
	}
	return typ
}

// WaitVBlank issues a vblank request. With VBlankEvent set the ioctl
// returns immediately and completion is delivered through the event
// queue; otherwise it blocks until the requested sequence and the
// returned time is the vblank timestamp.
func WaitVBlank(file *os.File, typ, sequence uint32) (uint32, time.Time, error) {
	vbl := &sysWaitVBlank{typ: typ, sequence: sequence}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLWaitVBlank),
		uintptr(unsafe.Pointer(vbl)))
	if err != nil {
		return 0, time.Time{}, err
	}
	return vbl.sequence, time.Unix(vbl.tvalSec, vbl.tvalUsec*1000), nil
}

// ReadEvents reads whatever is queued on the card fd and decodes the
// entries. The fd must be readable or the call blocks; callers poll
// first.
func ReadEvents(file *os.File) ([]Event, error) {
	buf := make([]byte, 1024)
	n, err := file.Read(buf)
	if err != nil {
		return nil, err
	}

	var events []Event
	for off := 0; off+eventHeaderLen <= n; {
		typ := binary.LittleEndian.Uint32(buf[off:])
		length := int(binary.LittleEndian.Uint32(buf[off+4:]))
		if length < eventHeaderLen || off+length > n {
			return events, fmt.Errorf("truncated drm event: type %d length %d", typ, length)
		}

		ev := Event{Type: typ}
		if (typ == EventVBlank || typ == EventFlipComplete) && length >= eventVBlankLen {
			ev.UserData = binary.LittleEndian.Uint64(buf[off+8:])
			sec := binary.LittleEndian.Uint32(buf[off+16:])
			usec := binary.LittleEndian.Uint32(buf[off+20:])
			ev.Timestamp = time.Unix(int64(sec), int64(usec)*1000)
			ev.Sequence = binary.LittleEndian.Uint32(buf[off+24:])
			ev.CrtcID = binary.LittleEndian.Uint32(buf[off+28:])
		}
		events = append(events, ev)
		off += length
	}
	return events, nil
}
