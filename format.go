package kmsink

// PixelFormat is a little-endian fourcc code, the same values AddFB2
// takes.
type PixelFormat uint32

// Pixel formats the sink understands. The YUV formats are the ones
// video decoders hand out; the RGB formats cover primary planes and
// test sources.
const (
	FormatNV12   PixelFormat = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FormatNV16   PixelFormat = 'N' | 'V'<<8 | '1'<<16 | '6'<<24
	FormatI420   PixelFormat = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	FormatYUV444 PixelFormat = 'Y' | 'U'<<8 | '2'<<16 | '4'<<24
	FormatYUYV   PixelFormat = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	FormatUYVY   PixelFormat = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24

	FormatXRGB8888 PixelFormat = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatARGB8888 PixelFormat = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatXBGR8888 PixelFormat = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatABGR8888 PixelFormat = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatRGB888   PixelFormat = 'R' | 'G'<<8 | '2'<<16 | '4'<<24
	FormatBGR888   PixelFormat = 'B' | 'G'<<8 | '2'<<16 | '4'<<24
	FormatRGB565   PixelFormat = 'R' | 'G'<<8 | '1'<<16 | '6'<<24
	FormatBGR565   PixelFormat = 'B' | 'G'<<8 | '1'<<16 | '6'<<24
)

func (f PixelFormat) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

func (f PixelFormat) known() bool {
	switch f {
	case FormatNV12, FormatNV16, FormatI420, FormatYUV444, FormatYUYV,
		FormatUYVY, FormatXRGB8888, FormatARGB8888, FormatXBGR8888,
		FormatABGR8888, FormatRGB888, FormatBGR888, FormatRGB565,
		FormatBGR565:
		return true
	}
	return false
}

// Planes returns how many memory planes the format occupies.
func (f PixelFormat) Planes() int {
	switch f {
	case FormatNV12, FormatNV16:
		return 2
	case FormatI420, FormatYUV444:
		return 3
	}
	return 1
}

// baseDepth is the bits per pixel of the first plane, which is what
// dumb buffer allocations are sized by.
func (f PixelFormat) baseDepth() uint32 {
	switch f {
	case FormatYUYV, FormatUYVY, FormatRGB565, FormatBGR565:
		return 16
	case FormatRGB888, FormatBGR888:
		return 24
	case FormatXRGB8888, FormatARGB8888, FormatXBGR8888, FormatABGR8888:
		return 32
	}
	return 8
}

// stackedRows is the total buffer height, in rows of the first
// plane, needed to hold every plane of one field stacked in a single
// buffer object.
func (f PixelFormat) stackedRows(fieldHeight uint32) uint32 {
	switch f {
	case FormatNV12, FormatI420:
		return fieldHeight * 3 / 2
	case FormatNV16:
		return fieldHeight * 2
	case FormatYUV444:
		return fieldHeight * 3
	}
	return fieldHeight
}

// chromaVerticalSub is the vertical chroma subsampling factor of the
// interleaved-chroma formats ROI drawing writes into, 0 for any
// other layout.
func (f PixelFormat) chromaVerticalSub() uint32 {
	switch f {
	case FormatNV12:
		return 2
	case FormatNV16:
		return 1
	}
	return 0
}

// planeRowCount is the row count of plane i at the given field
// height.
func (f PixelFormat) planeRowCount(i, fieldHeight int) int {
	if i == 0 {
		return fieldHeight
	}
	switch f {
	case FormatNV12, FormatI420:
		return (fieldHeight + 1) / 2
	}
	return fieldHeight
}

// tightPlanePitch is the byte width of one row of plane i with no
// padding, the layout raw frame data arrives in.
func (f PixelFormat) tightPlanePitch(i, width int) int {
	if i == 0 {
		return width * int(f.baseDepth()) / 8
	}
	if f == FormatI420 {
		return (width + 1) / 2
	}
	return width
}

// InterlaceMode describes how fields arrive in the stream.
type InterlaceMode uint8

const (
	// Progressive frames carry no fields.
	Progressive InterlaceMode = iota
	// Interleaved buffers weave both fields into one frame.
	Interleaved
	// Alternate buffers carry a single field each.
	Alternate
)

func (m InterlaceMode) String() string {
	switch m {
	case Progressive:
		return "progressive"
	case Interleaved:
		return "interleaved"
	case Alternate:
		return "alternate"
	}
	return "unknown"
}

// Field marks which field a buffer carries in Alternate streams.
type Field uint8

const (
	FieldNone Field = iota
	FieldTop
	FieldBottom
)

// VideoInfo describes the geometry and layout of a video stream.
// Width and Height are full frame dimensions even for Alternate
// streams, where each buffer carries a single field of FieldHeight
// rows.
type VideoInfo struct {
	Format    PixelFormat
	Width     int
	Height    int
	Interlace InterlaceMode

	// Pixel aspect ratio. Zero means square pixels.
	PARNum, PARDen int

	// Buffer rate: frames per second, or fields per second for
	// Alternate streams.
	FPSNum, FPSDen int
}

// FieldHeight is the number of rows one buffer carries: the frame
// height, except for Alternate streams where each buffer holds one
// field and odd frame heights round up.
func (v VideoInfo) FieldHeight() int {
	if v.Interlace == Alternate {
		return (v.Height + 1) / 2
	}
	return v.Height
}

func (v VideoInfo) withDefaults() VideoInfo {
	if v.PARNum == 0 || v.PARDen == 0 {
		v.PARNum, v.PARDen = 1, 1
	}
	return v
}

// bufferLayout is the placement of a frame's planes inside one
// contiguous buffer object.
type bufferLayout struct {
	planes  int
	pitches [4]uint32
	offsets [4]uint32
	size    uint64
}

// layoutFor stacks the format's planes into one buffer, deriving the
// chroma pitches from the first plane's pitch the way the kernel
// hands it back from the dumb buffer allocation.
func layoutFor(format PixelFormat, fieldHeight int, pitch uint32) bufferLayout {
	h := uint32(fieldHeight)
	l := bufferLayout{planes: format.Planes()}
	l.pitches[0] = pitch

	switch format {
	case FormatNV12:
		l.pitches[1] = pitch
		l.offsets[1] = pitch * h
		l.size = uint64(pitch)*uint64(h) + uint64(pitch)*uint64((h+1)/2)
	case FormatNV16:
		l.pitches[1] = pitch
		l.offsets[1] = pitch * h
		l.size = 2 * uint64(pitch) * uint64(h)
	case FormatI420:
		half := (pitch + 1) / 2
		l.pitches[1], l.pitches[2] = half, half
		l.offsets[1] = pitch * h
		l.offsets[2] = l.offsets[1] + half*((h+1)/2)
		l.size = uint64(l.offsets[2]) + uint64(half)*uint64((h+1)/2)
	case FormatYUV444:
		l.pitches[1], l.pitches[2] = pitch, pitch
		l.offsets[1] = pitch * h
		l.offsets[2] = 2 * pitch * h
		l.size = 3 * uint64(pitch) * uint64(h)
	default:
		l.size = uint64(pitch) * uint64(h)
	}
	return l
}
