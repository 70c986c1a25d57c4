package kmsink

import (
	"fmt"
	"math"

	"github.com/NeowayLabs/kmsink/drm/mode"
)

// refreshTolerance is how far a mode's refresh rate may sit from the
// stream rate and still count as the same rate.
const refreshTolerance = 0.005

// selectMode picks the connector mode matching the video geometry.
// Alternate streams need an interlaced mode at the field rate, with
// no fallback; progressive streams prefer an exact refresh match and
// fall back to the nearest rate at the right size.
func selectMode(modes []mode.Info, width, fieldHeight int, fps float64, alternate bool) *mode.Info {
	var (
		fallback *mode.Info
		bestDiff float64
	)
	for i := range modes {
		m := &modes[i]
		if int(m.Hdisplay) != width || int(m.Vdisplay) != fieldHeight {
			continue
		}
		diff := math.Abs(m.RefreshRate() - fps)
		if alternate {
			if m.Interlaced() && diff <= refreshTolerance {
				return m
			}
			continue
		}
		if diff <= refreshTolerance {
			return m
		}
		if fallback == nil || diff < bestDiff {
			fallback = m
			bestDiff = diff
		}
	}
	return fallback
}

func modeName(m *mode.Info) string {
	name := m.Name[:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return string(name)
}

// displayTarget computes the on-screen size of the video once video
// and display pixel aspect ratios are applied. Without scaling the
// plane scans the buffer out 1:1, so the target is the video geometry
// itself.
func (s *Sink) displayTarget(info VideoInfo) (int, int, error) {
	s.geoMu.Lock()
	hdisplay, vdisplay := s.hdisplay, s.vdisplay
	canScale := s.canScale
	s.geoMu.Unlock()

	if !canScale {
		return info.Width, info.FieldHeight(), nil
	}

	dpyN, dpyD := devicePixelAspect(uint32(hdisplay), uint32(vdisplay), s.mmWidth, s.mmHeight)
	darN, darD, err := displayRatio(info, dpyN, dpyD)
	if err != nil {
		return 0, 0, err
	}
	w, h := scaledSize(info, darN, darD)
	return w, h, nil
}

// applyMode programs the CRTC with a connector mode matching the
// video, scanning out a freshly allocated buffer. Reapplying for the
// same video is a no-op.
func (s *Sink) applyMode(info VideoInfo) error {
	info = info.withDefaults()
	if s.modeSet && s.modeKey == info {
		return nil
	}

	wantW, wantH := info.Width, info.Height
	if s.cfg.forceNTSCTV && wantH == 480 {
		wantW, wantH = 720, 486
	}
	modeInfo := info
	modeInfo.Width, modeInfo.Height = wantW, wantH
	fieldH := modeInfo.FieldHeight()

	var fps float64
	if info.FPSDen != 0 {
		fps = float64(info.FPSNum) / float64(info.FPSDen)
	}

	conn, err := s.dev.Connector(s.connID)
	if err != nil {
		return err
	}
	m := selectMode(conn.Modes, wantW, fieldH, fps, info.Interlace == Alternate)
	if m == nil {
		return fmt.Errorf("%w: no %dx%d mode at %.3f Hz", ErrNoMode, wantW, fieldH, fps)
	}

	scratch, err := s.alloc.Allocate(modeInfo)
	if err != nil {
		return err
	}
	fbID, err := s.fbs.bind(scratch, 0)
	if err != nil {
		s.alloc.Release(scratch)
		return err
	}

	if err := s.dev.SetCRTC(s.crtcID, fbID, 0, 0, s.connID, m); err != nil {
		s.releaseMemory(scratch)
		return fmt.Errorf("%w: mode %s: %v", ErrModeSet, modeName(m), err)
	}

	if s.scratch != nil {
		s.releaseMemory(s.scratch)
	}
	s.scratch = scratch
	s.fbID = fbID
	s.modeSet = true
	s.modeKey = info

	s.geoMu.Lock()
	s.hdisplay, s.vdisplay = m.Hdisplay, m.Vdisplay
	s.renderRect = Rect{W: uint32(m.Hdisplay), H: uint32(m.Vdisplay)}
	s.geoMu.Unlock()

	s.log.Info().
		Str("mode", modeName(m)).
		Int("width", wantW).
		Int("fieldHeight", fieldH).
		Float64("refresh", m.RefreshRate()).
		Msg("mode set")
	return nil
}

// sizeCRTCToVideo reprograms the CRTC to the video geometry so the
// overlay covers the whole screen, hiding the primary plane behind
// zero alpha.
func (s *Sink) sizeCRTCToVideo(info VideoInfo) error {
	if s.primaryPlaneID == 0 {
		return fmt.Errorf("%w: no primary plane for fullscreen overlay", ErrNoPlane)
	}
	if err := s.setPlaneProperty(s.primaryPlaneID, "alpha", 0); err != nil {
		s.log.Warn().Err(err).Msg("cannot hide primary plane")
	}

	primary, err := s.dev.Plane(s.primaryPlaneID)
	if err != nil {
		return err
	}
	var format PixelFormat
	for _, f := range primary.Formats {
		if PixelFormat(f).known() {
			format = PixelFormat(f)
			break
		}
	}
	if format == 0 {
		return ErrNoFormat
	}

	return s.applyMode(VideoInfo{
		Format:    format,
		Width:     info.Width,
		Height:    info.Height,
		Interlace: info.Interlace,
		FPSNum:    info.FPSNum,
		FPSDen:    info.FPSDen,
	})
}
