package kmsink

import "encoding/binary"

// seiROIPayloadType is the unregistered SEI payload type carrying
// region-of-interest rectangles on Xilinx VCU streams.
const seiROIPayloadType = 77

// ROIRect is one region of interest in frame coordinates.
type ROIRect struct {
	X, Y, W, H uint32
}

// ROIBatch is one decoded set of regions, drawn onto the next frame
// shown after it is queued.
type ROIBatch struct {
	Seq   uint32
	Rects []ROIRect
}

// ParseROIPayload decodes an SEI payload into a batch of regions.
// The payload is little-endian 32-bit words: sequence number, a
// reserved word, the rectangle count, then x/y/width/height per
// rectangle.
func ParseROIPayload(payloadType uint32, data []byte) (ROIBatch, error) {
	if payloadType != seiROIPayloadType {
		return ROIBatch{}, ErrBadROIPayload
	}
	if len(data) < 12 {
		return ROIBatch{}, ErrBadROIPayload
	}
	seq := binary.LittleEndian.Uint32(data[0:4])
	count := binary.LittleEndian.Uint32(data[8:12])
	if uint64(len(data)) < 12+16*uint64(count) {
		return ROIBatch{}, ErrBadROIPayload
	}
	rects := make([]ROIRect, 0, count)
	for i := 0; i < int(count); i++ {
		off := 12 + 16*i
		rects = append(rects, ROIRect{
			X: binary.LittleEndian.Uint32(data[off : off+4]),
			Y: binary.LittleEndian.Uint32(data[off+4 : off+8]),
			W: binary.LittleEndian.Uint32(data[off+8 : off+12]),
			H: binary.LittleEndian.Uint32(data[off+12 : off+16]),
		})
	}
	return ROIBatch{Seq: seq, Rects: rects}, nil
}

// applyROI draws rectangle outlines into the interleaved chroma
// plane of mem. Rectangles are snapped to even luma coordinates so
// they land on whole chroma samples. Returns how many rectangles
// were skipped for being degenerate or outside the frame.
func applyROI(mem Memory, rects []ROIRect, thickness int, color [3]byte) int {
	info := mem.Info()
	vert := int64(info.Format.chromaVerticalSub())
	if vert == 0 {
		return len(rects)
	}
	data := mem.Bytes()
	if data == nil {
		return len(rects)
	}

	chroma := data[mem.Offsets()[1]:]
	stride := int64(mem.Pitches()[1])
	frameW := uint32(info.Width)
	frameH := uint32(info.FieldHeight())
	u, v := color[1], color[2]

	skipped := 0
	for _, r := range rects {
		if r.X >= frameW || r.Y >= frameH {
			skipped++
			continue
		}
		w, h := r.W, r.H
		if w > frameW-r.X {
			w = frameW - r.X
		}
		if h > frameH-r.Y {
			h = frameH - r.Y
		}

		x := int64(r.X &^ 1)
		y := int64(r.Y)
		rw := int64(w &^ 1)
		rh := int64(h)
		if rw < 2 || rh < vert {
			skipped++
			continue
		}

		rows := rh / vert
		barRows := 2 / vert
		top := (y/vert)*stride + x
		bottom := top + (rows-1)*stride

		// Top and bottom bars, one ring per thickness step, each
		// ring inset one chroma sample from the previous.
		hTop, hBottom, hw := top, bottom, rw
		for t := int64(0); t < int64(thickness) && hw >= 2 && (t+1)*barRows <= rows; t++ {
			for k := int64(0); k < barRows; k++ {
				for i := int64(0); i < hw; i += 2 {
					chroma[hTop+i] = u
					chroma[hTop+i+1] = v
					chroma[hBottom+i] = u
					chroma[hBottom+i+1] = v
				}
				if k < barRows-1 {
					hTop += stride
					hBottom -= stride
				}
			}
			hTop += stride + 2
			hBottom += 2 - stride
			hw -= 4
		}

		// Left and right bars.
		vLeft, vRight, vh, vw := top, top+rw-2, rh, rw
		for t := 0; t < thickness && vh >= vert && vw >= 2; t++ {
			off := int64(0)
			for i := int64(0); i < vh/vert; i++ {
				chroma[vLeft+off] = u
				chroma[vLeft+off+1] = v
				chroma[vRight+off] = u
				chroma[vRight+off+1] = v
				off += stride
			}
			vLeft += stride + 2
			vRight += stride - 2
			vh -= 2 * vert
			vw -= 4
		}
	}
	return skipped
}
