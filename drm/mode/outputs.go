package mode

import (
	"fmt"
	"os"
)

// Output is one connected display paired with a CRTC able to drive
// it. Mode is the connector's preferred mode.
type Output struct {
	Conn   uint32
	Crtc   uint32
	Mode   Info
	Width  uint16
	Height uint16
}

// ProbeOutputs pairs every connected connector on the card with a
// CRTC, preferring the CRTC its encoder currently drives and falling
// back to any CRTC allowed by the connector's encoders. Each CRTC is
// handed out at most once.
func ProbeOutputs(file *os.File) ([]Output, error) {
	res, err := GetResources(file)
	if err != nil {
		return nil, fmt.Errorf("cannot retrieve resources: %w", err)
	}

	var outputs []Output
	taken := make(map[uint32]bool)
	for _, id := range res.Connectors {
		conn, err := GetConnector(file, id)
		if err != nil {
			return nil, fmt.Errorf("cannot retrieve connector %d: %w", id, err)
		}
		if conn.Connection != Connected || len(conn.Modes) == 0 {
			continue
		}

		crtc, err := crtcForConnector(file, res, conn, taken)
		if err != nil {
			return nil, err
		}
		if crtc == 0 {
			continue
		}
		taken[crtc] = true

		outputs = append(outputs, Output{
			Conn:   conn.ID,
			Crtc:   crtc,
			Mode:   conn.Modes[0],
			Width:  conn.Modes[0].Hdisplay,
			Height: conn.Modes[0].Vdisplay,
		})
	}
	return outputs, nil
}

// crtcForConnector returns an unclaimed CRTC for the connector, 0
// when every candidate is taken.
func crtcForConnector(file *os.File, res *Resources, conn *Connector, taken map[uint32]bool) (uint32, error) {
	if conn.EncoderID != 0 {
		enc, err := GetEncoder(file, conn.EncoderID)
		if err != nil {
			return 0, fmt.Errorf("cannot retrieve encoder %d: %w", conn.EncoderID, err)
		}
		if enc.CrtcID != 0 && !taken[enc.CrtcID] {
			return enc.CrtcID, nil
		}
	}

	for _, encID := range conn.Encoders {
		enc, err := GetEncoder(file, encID)
		if err != nil {
			return 0, fmt.Errorf("cannot retrieve encoder %d: %w", encID, err)
		}
		for pipe, crtcID := range res.Crtcs {
			if enc.PossibleCrtcs&(1<<uint(pipe)) == 0 || taken[crtcID] {
				continue
			}
			return crtcID, nil
		}
	}
	return 0, nil
}
