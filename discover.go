package kmsink

import (
	"fmt"

	"github.com/NeowayLabs/kmsink/drm/mode"
)

// pickConnector chooses the output connector. An explicit connector
// id wins; otherwise built-in panels are preferred, then the first
// connected connector, then the first one listed.
func (s *Sink) pickConnector(res *mode.Resources) (*mode.Connector, error) {
	if s.cfg.connectorID != 0 {
		conn, err := s.dev.Connector(s.cfg.connectorID)
		if err != nil {
			return nil, fmt.Errorf("kmsink: connector %d: %w", s.cfg.connectorID, err)
		}
		return conn, nil
	}

	var panel, connected, first *mode.Connector
	for _, id := range res.Connectors {
		conn, err := s.dev.Connector(id)
		if err != nil {
			s.log.Warn().Err(err).Uint32("connector", id).Msg("cannot query connector")
			continue
		}
		if first == nil {
			first = conn
		}
		if conn.Connection != mode.Connected {
			continue
		}
		if connected == nil {
			connected = conn
		}
		if panel == nil && isPanel(conn.Type) {
			panel = conn
		}
	}

	switch {
	case panel != nil:
		return panel, nil
	case connected != nil:
		return connected, nil
	case first != nil:
		return first, nil
	}
	return nil, ErrNoConnector
}

func isPanel(connType uint32) bool {
	return connType == mode.ConnectorLVDS || connType == mode.ConnectorEDP
}

// pickCRTC finds the CRTC currently driving the connector, falling
// back to the first CRTC any of the connector's encoders could use.
// Returns the CRTC id and its pipe index.
func (s *Sink) pickCRTC(res *mode.Resources, conn *mode.Connector) (uint32, int, error) {
	var crtcID uint32
	if conn.EncoderID != 0 {
		if enc, err := s.dev.Encoder(conn.EncoderID); err == nil {
			crtcID = enc.CrtcID
		}
	}

	if crtcID == 0 {
		for _, encID := range conn.Encoders {
			enc, err := s.dev.Encoder(encID)
			if err != nil {
				continue
			}
			for i, id := range res.Crtcs {
				if enc.PossibleCrtcs&(1<<uint(i)) != 0 {
					return id, i, nil
				}
			}
		}
		return 0, 0, ErrNoCRTC
	}

	for i, id := range res.Crtcs {
		if id == crtcID {
			return crtcID, i, nil
		}
	}
	return 0, 0, ErrNoCRTC
}

// pickPlane finds an overlay plane the CRTC can scan out. Without
// universal planes the kernel only lists overlays; if none turns up
// the universal plane cap is enabled and the scan repeated, this
// time filtering primaries and cursors back out.
func (s *Sink) pickPlane(pipe int) (*mode.Plane, error) {
	if s.cfg.planeID != 0 {
		plane, err := s.dev.Plane(s.cfg.planeID)
		if err != nil {
			return nil, fmt.Errorf("kmsink: plane %d: %w", s.cfg.planeID, err)
		}
		if plane.PossibleCrtcs&(1<<uint(pipe)) == 0 {
			return nil, ErrNoPlane
		}
		return plane, nil
	}

	plane, err := s.findOverlay(pipe)
	if err != nil {
		return nil, err
	}
	if plane == nil && !s.universalPlanes {
		if err := s.dev.SetUniversalPlanes(); err == nil {
			s.universalPlanes = true
			if plane, err = s.findOverlay(pipe); err != nil {
				return nil, err
			}
		}
	}
	if plane == nil {
		return nil, ErrNoPlane
	}
	return plane, nil
}

func (s *Sink) findOverlay(pipe int) (*mode.Plane, error) {
	ids, err := s.dev.Planes()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		plane, err := s.dev.Plane(id)
		if err != nil {
			continue
		}
		if plane.PossibleCrtcs&(1<<uint(pipe)) == 0 {
			continue
		}
		if s.universalPlanes && s.planeType(id) != mode.PlaneTypeOverlay {
			continue
		}
		return plane, nil
	}
	return nil, nil
}

// findPrimaryPlane locates the pipe's primary plane. Only meaningful
// once universal planes are enabled; zero means not found.
func (s *Sink) findPrimaryPlane(pipe int) uint32 {
	ids, err := s.dev.Planes()
	if err != nil {
		return 0
	}
	for _, id := range ids {
		plane, err := s.dev.Plane(id)
		if err != nil {
			continue
		}
		if plane.PossibleCrtcs&(1<<uint(pipe)) == 0 {
			continue
		}
		if s.planeType(id) == mode.PlaneTypePrimary {
			return id
		}
	}
	return 0
}

// planeType reads the "type" property of a plane, defaulting to
// overlay when the property cannot be read.
func (s *Sink) planeType(planeID uint32) uint64 {
	props, err := s.dev.ObjectProperties(planeID, mode.ObjectPlane)
	if err != nil {
		return mode.PlaneTypeOverlay
	}
	for _, p := range props {
		if p.Name == "type" {
			return p.Value
		}
	}
	return mode.PlaneTypeOverlay
}

func (s *Sink) planePropertyValue(planeID uint32, name string) (uint64, bool) {
	if planeID == 0 {
		return 0, false
	}
	props, err := s.dev.ObjectProperties(planeID, mode.ObjectPlane)
	if err != nil {
		return 0, false
	}
	for _, p := range props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

func (s *Sink) setPlaneProperty(planeID uint32, name string, value uint64) error {
	props, err := s.dev.ObjectProperties(planeID, mode.ObjectPlane)
	if err != nil {
		return err
	}
	for _, p := range props {
		if p.Name == name {
			return s.dev.SetObjectProperty(planeID, mode.ObjectPlane, p.ID, value)
		}
	}
	return fmt.Errorf("kmsink: plane %d has no %q property", planeID, name)
}

// normalizePropName maps a DRM property name to the key form used in
// configuration maps, replacing anything outside [A-Za-z0-9_] with a
// dash.
func normalizePropName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			b[i] = '-'
		}
	}
	return string(b)
}

// applyProperties writes the requested property values onto a KMS
// object, matching names after normalization. Failures are logged,
// not fatal.
func (s *Sink) applyProperties(objID, objType uint32, want map[string]uint64) {
	if len(want) == 0 || objID == 0 {
		return
	}
	props, err := s.dev.ObjectProperties(objID, objType)
	if err != nil {
		s.log.Warn().Err(err).Uint32("object", objID).Msg("cannot list object properties")
		return
	}
	for _, p := range props {
		val, ok := want[normalizePropName(p.Name)]
		if !ok {
			continue
		}
		if err := s.dev.SetObjectProperty(objID, objType, p.ID, val); err != nil {
			s.log.Warn().Err(err).Str("prop", p.Name).Uint64("value", val).
				Msg("cannot set object property")
			continue
		}
		s.log.Info().Str("prop", p.Name).Uint64("value", val).
			Uint32("object", objID).Msg("set object property")
	}
}
