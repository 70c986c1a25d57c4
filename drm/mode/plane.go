package mode

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/kmsink/drm"
	"github.com/NeowayLabs/kmsink/drm/ioctl"
)

// Values of the "type" plane property.
const (
	PlaneTypeOverlay = 0
	PlaneTypePrimary = 1
	PlaneTypeCursor  = 2
)

// Framebuffer flags for AddFB2.
const (
	FBInterlaced      = 1 << 0
	FBModifiers       = 1 << 1
	FBAlternateTop    = 1 << 2
	FBAlternateBottom = 1 << 3
)

// Page flip flags.
const (
	PageFlipEvent = 0x01
	PageFlipAsync = 0x02
)

type (
	sysGetPlaneRes struct {
		planeIdPtr  uintptr
		countPlanes uint32
	}

	sysGetPlane struct {
		planeID uint32

		crtcID uint32
		fbID   uint32

		possibleCrtcs uint32
		gammaSize     uint32

		countFormatTypes uint32
		formatTypePtr    uintptr
	}

	sysSetPlane struct {
		planeID uint32
		crtcID  uint32
		fbID    uint32
		flags   uint32

		crtcX, crtcY int32
		crtcW, crtcH uint32

		// source values are 16.16 fixed point; note the kernel
		// orders height before width here
		srcX, srcY uint32
		srcH, srcW uint32
	}

	sysFBCmd2 struct {
		fbID          uint32
		width, height uint32
		pixelFormat   uint32
		flags         uint32
		handles       [4]uint32
		pitches       [4]uint32
		offsets       [4]uint32
		modifier      [4]uint64
	}

	sysPageFlip struct {
		crtcID   uint32
		fbID     uint32
		flags    uint32
		reserved uint32
		userData uint64
	}

	Plane struct {
		ID     uint32
		CrtcID uint32
		FbID   uint32

		PossibleCrtcs uint32
		GammaSize     uint32

		Formats []uint32 // fourcc codes the plane scans out
	}

	// FB2 describes a (possibly multi-planar) framebuffer for AddFB2.
	FB2 struct {
		Width, Height uint32
		PixelFormat   uint32 // fourcc
		Flags         uint32
		Handles       [4]uint32
		Pitches       [4]uint32
		Offsets       [4]uint32
	}
)

var (
	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	IOCTLModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPageFlip{})), drm.IOCTLBase, 0xB0)

	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	IOCTLModeGetPlaneResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlaneRes{})), drm.IOCTLBase, 0xB5)

	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	IOCTLModeGetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlane{})), drm.IOCTLBase, 0xB6)

	// DRM_IOWR(0xB7, struct drm_mode_set_plane)
	IOCTLModeSetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysSetPlane{})), drm.IOCTLBase, 0xB7)

	// DRM_IOWR(0xB8, struct drm_mode_fb_cmd2)
	IOCTLModeAddFB2 = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysFBCmd2{})), drm.IOCTLBase, 0xB8)
)

// GetPlaneResources lists the plane ids of the device. Primary and
// cursor planes only show up after the universal planes client cap
// is set.
func GetPlaneResources(file *os.File) ([]uint32, error) {
	pres := &sysGetPlaneRes{}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(pres)))
	if err != nil {
		return nil, err
	}

	var planeids []uint32
	if pres.countPlanes > 0 {
		planeids = make([]uint32, pres.countPlanes)
		pres.planeIdPtr = uintptr(unsafe.Pointer(&planeids[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(pres)))
	if err != nil {
		return nil, err
	}

	return planeids[:pres.countPlanes], nil
}

func GetPlane(file *os.File, id uint32) (*Plane, error) {
	plane := &sysGetPlane{}
	plane.planeID = id
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, err
	}

	var formats []uint32
	if plane.countFormatTypes > 0 {
		formats = make([]uint32, plane.countFormatTypes)
		plane.formatTypePtr = uintptr(unsafe.Pointer(&formats[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, err
	}

	return &Plane{
		ID:            plane.planeID,
		CrtcID:        plane.crtcID,
		FbID:          plane.fbID,
		PossibleCrtcs: plane.possibleCrtcs,
		GammaSize:     plane.gammaSize,
		Formats:       formats,
	}, nil
}

// SetPlane attaches a framebuffer to a plane, cropping the source
// rectangle (16.16 fixed point) and placing it at the destination
// CRTC rectangle. fbID 0 disables the plane.
func SetPlane(file *os.File, planeID, crtcID, fbID, flags uint32,
	crtcX, crtcY int32, crtcW, crtcH uint32,
	srcX, srcY, srcW, srcH uint32) error {
	plane := &sysSetPlane{
		planeID: planeID,
		crtcID:  crtcID,
		fbID:    fbID,
		flags:   flags,
		crtcX:   crtcX,
		crtcY:   crtcY,
		crtcW:   crtcW,
		crtcH:   crtcH,
		srcX:    srcX,
		srcY:    srcY,
		srcH:    srcH,
		srcW:    srcW,
	}
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeSetPlane),
		uintptr(unsafe.Pointer(plane)))
}

// AddFB2 registers a framebuffer from per-plane buffer handles,
// pitches and offsets. Unlike AddFB, the format is a fourcc and the
// flags can mark interlaced alternate-field content.
func AddFB2(file *os.File, fb *FB2) (uint32, error) {
	f := &sysFBCmd2{
		width:       fb.Width,
		height:      fb.Height,
		pixelFormat: fb.PixelFormat,
		flags:       fb.Flags,
		handles:     fb.Handles,
		pitches:     fb.Pitches,
		offsets:     fb.Offsets,
	}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeAddFB2),
		uintptr(unsafe.Pointer(f)))
	if err != nil {
		return 0, err
	}
	return f.fbID, nil
}

// PageFlip schedules a buffer swap on the crtc at the next vblank.
// With PageFlipEvent set, completion is delivered through the event
// queue with the given userData.
func PageFlip(file *os.File, crtcID, fbID, flags uint32, userData uint64) error {
	flip := &sysPageFlip{
		crtcID:   crtcID,
		fbID:     fbID,
		flags:    flags,
		userData: userData,
	}
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModePageFlip),
		uintptr(unsafe.Pointer(flip)))
}
