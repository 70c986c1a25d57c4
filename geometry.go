package kmsink

import "math/bits"

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func reduce(n, d uint64) (uint64, uint64) {
	if g := gcd(n, d); g > 1 {
		return n / g, d / g
	}
	return n, d
}

func mul64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// scale64 computes val*num/den without intermediate overflow.
func scale64(val, num, den uint64) uint64 {
	hi, lo := bits.Mul64(val, num)
	if den == 0 || hi >= den {
		return 0
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// devicePixelAspect derives the display's pixel aspect ratio from
// its mode geometry and physical dimensions. Unknown physical size
// means square pixels.
func devicePixelAspect(hdisplay, vdisplay, mmWidth, mmHeight uint32) (n, d uint64) {
	if hdisplay == 0 || vdisplay == 0 || mmWidth == 0 || mmHeight == 0 {
		return 1, 1
	}
	return reduce(uint64(vdisplay)*uint64(mmWidth), uint64(hdisplay)*uint64(mmHeight))
}

// displayRatio computes the reduced display aspect ratio of the
// video once the video and display pixel aspects are factored in.
func displayRatio(info VideoInfo, dpyParN, dpyParD uint64) (uint64, uint64, error) {
	parN, parD := uint64(info.PARNum), uint64(info.PARDen)
	if parN == 0 || parD == 0 {
		parN, parD = 1, 1
	}

	num, ok1 := mul64(uint64(info.Width), parN)
	num, ok2 := mul64(num, dpyParD)
	den, ok3 := mul64(uint64(info.FieldHeight()), parD)
	den, ok4 := mul64(den, dpyParN)
	if !ok1 || !ok2 || !ok3 || !ok4 || den == 0 {
		return 0, 0, ErrRatio
	}
	n, d := reduce(num, den)
	return n, d, nil
}

// scaledSize applies the display aspect ratio to the buffer
// geometry, keeping whichever axis divides evenly and approximating
// on the height otherwise.
func scaledSize(info VideoInfo, darN, darD uint64) (int, int) {
	w := uint64(info.Width)
	h := uint64(info.FieldHeight())
	switch {
	case h%darD == 0:
		return int(scale64(h, darN, darD)), int(h)
	case w%darN == 0:
		return int(w), int(scale64(w, darD, darN))
	default:
		return int(scale64(h, darN, darD)), int(h)
	}
}

// centerRect places src inside dst. Without scaling the source is
// clipped to dst and centered; with scaling it is stretched to dst
// preserving the source aspect, letterboxing the leftover axis.
func centerRect(src, dst Rect, scaling bool) Rect {
	var out Rect

	if !scaling {
		out.W = dst.W
		if src.W < dst.W {
			out.W = src.W
		}
		out.H = dst.H
		if src.H < dst.H {
			out.H = src.H
		}
		out.X = dst.X + int32(dst.W-out.W)/2
		out.Y = dst.Y + int32(dst.H-out.H)/2
		return out
	}

	if src.W == 0 || src.H == 0 || dst.W == 0 || dst.H == 0 {
		return Rect{X: dst.X, Y: dst.Y}
	}

	srcRatio := float64(src.W) / float64(src.H)
	dstRatio := float64(dst.W) / float64(dst.H)
	switch {
	case srcRatio > dstRatio:
		out.W = dst.W
		out.H = uint32(float64(dst.W) / srcRatio)
		out.X = dst.X
		out.Y = dst.Y + int32(dst.H-out.H)/2
	case srcRatio < dstRatio:
		out.W = uint32(float64(dst.H) * srcRatio)
		out.H = dst.H
		out.X = dst.X + int32(dst.W-out.W)/2
		out.Y = dst.Y
	default:
		out = dst
	}
	return out
}

// clipToDisplay shrinks r so it ends inside the display bounds.
// ok is false when nothing of r remains visible.
func clipToDisplay(r Rect, hdisplay, vdisplay uint16) (Rect, bool) {
	w, h := int64(r.W), int64(r.H)
	if int64(r.X)+w > int64(hdisplay) {
		w = int64(hdisplay) - int64(r.X)
	}
	if int64(r.Y)+h > int64(vdisplay) {
		h = int64(vdisplay) - int64(r.Y)
	}
	if w <= 0 || h <= 0 {
		return Rect{}, false
	}
	r.W, r.H = uint32(w), uint32(h)
	return r, true
}
