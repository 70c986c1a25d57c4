package kmsink

import (
	"errors"
	"os"
	"time"

	"github.com/NeowayLabs/kmsink/drm"
)

// syncTimeout bounds how long one frame may wait for its vblank or
// flip completion event.
const syncTimeout = 3 * time.Second

// sync makes the queued scanout configuration take effect on the
// next vertical blank. Drivers with async page flip, and the
// modesetting path, get a real flip event; everything else queues a
// vblank event. One event is consumed before returning.
func (s *Sink) sync() error {
	var err error
	if s.caps.AsyncPageFlip || s.modesetting {
		err = s.dev.PageFlip(s.crtcID, s.fbID)
	} else {
		err = s.dev.QueueVBlank(s.pipe)
	}
	if err != nil {
		return err
	}

	deadline := time.Now().Add(syncTimeout)
	for {
		ev, err := s.dev.NextEvent(time.Until(deadline))
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return ErrSyncTimeout
			}
			return err
		}
		switch ev.Type {
		case drm.EventFlipComplete, drm.EventVBlank:
			s.log.Trace().Uint32("sequence", ev.Sequence).
				Time("hw", ev.Timestamp).Msg("vblank")
			return nil
		}
	}
}
