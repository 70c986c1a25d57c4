package drm_test

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/NeowayLabs/kmsink/drm"
)

func putVBlankEvent(buf []byte, typ uint32, userData uint64, sec, usec, seq, crtc uint32) []byte {
	ev := make([]byte, 32)
	binary.LittleEndian.PutUint32(ev[0:], typ)
	binary.LittleEndian.PutUint32(ev[4:], 32)
	binary.LittleEndian.PutUint64(ev[8:], userData)
	binary.LittleEndian.PutUint32(ev[16:], sec)
	binary.LittleEndian.PutUint32(ev[20:], usec)
	binary.LittleEndian.PutUint32(ev[24:], seq)
	binary.LittleEndian.PutUint32(ev[28:], crtc)
	return append(buf, ev...)
}

func TestReadEvents(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	var raw []byte
	raw = putVBlankEvent(raw, drm.EventVBlank, 7, 100, 250000, 42, 51)
	raw = putVBlankEvent(raw, drm.EventFlipComplete, 8, 101, 0, 43, 51)
	if _, err := w.Write(raw); err != nil {
		t.Fatal(err)
	}

	events, err := drm.ReadEvents(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	vbl := events[0]
	if vbl.Type != drm.EventVBlank || vbl.UserData != 7 || vbl.Sequence != 42 || vbl.CrtcID != 51 {
		t.Errorf("bad vblank event: %+v", vbl)
	}
	want := time.Unix(100, 250000*1000)
	if !vbl.Timestamp.Equal(want) {
		t.Errorf("vblank timestamp %v, want %v", vbl.Timestamp, want)
	}

	flip := events[1]
	if flip.Type != drm.EventFlipComplete || flip.Sequence != 43 {
		t.Errorf("bad flip event: %+v", flip)
	}
}

func TestReadEventsTruncated(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	// header claims 32 bytes but only the header arrives
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:], drm.EventVBlank)
	binary.LittleEndian.PutUint32(hdr[4:], 32)
	if _, err := w.Write(hdr); err != nil {
		t.Fatal(err)
	}

	if _, err := drm.ReadEvents(r); err == nil {
		t.Error("expected error for truncated event")
	}
}

func TestPipeVBlankType(t *testing.T) {
	base := uint32(drm.VBlankRelative | drm.VBlankEvent)
	if got := drm.PipeVBlankType(0, base); got != base {
		t.Errorf("pipe 0: got %#x, want %#x", got, base)
	}
	if got := drm.PipeVBlankType(1, base); got != base|drm.VBlankSecondary {
		t.Errorf("pipe 1: got %#x, want secondary bit set", got)
	}
	got := drm.PipeVBlankType(2, base)
	want := base | (2 << drm.VBlankHighCrtcShift)
	if got != want {
		t.Errorf("pipe 2: got %#x, want %#x", got, want)
	}
}
