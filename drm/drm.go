package drm

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kmsink/drm/ioctl"
)

type (
	version struct {
		Major   int32
		Minor   int32
		Patch   int32
		namelen int64
		name    uintptr
		datelen int64
		date    uintptr
		desclen int64
		desc    uintptr
	}

	// Version of DRM driver
	Version struct {
		version

		Major, Minor, Patch int32
		Name                string // Name of the driver (eg.: i915)
		Date                string
		Desc                string
	}
)

const (
	driPath = "/dev/dri"

	// maxCards bounds the card node scan done by OpenByDriver.
	maxCards = 16
)

// knownDrivers lists the KMS driver names probed by OpenKMSDevice,
// in probe order.
var knownDrivers = []string{
	"i915", "radeon", "nouveau", "vmwgfx", "exynos", "amdgpu",
	"imx-drm", "rockchip", "atmel-hlcdc", "msm", "xlnx", "vc4",
	"meson", "sun4i-drm", "mxsfb-drm", "xilinx_drm",
}

func Available() (Version, error) {
	f, err := OpenCard(0)
	if err != nil {
		// handle backward linux compat?
		// check /proc/dri/0 ?
		return Version{}, err
	}
	defer f.Close()
	return GetVersion(f)
}

func OpenCard(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/card%d", driPath, n))
}

func OpenControlDev(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/controlD%d", driPath, n))
}

func OpenRenderDev(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/renderD%d", driPath, n))
}

// OpenByDriver scans the card nodes and returns the first one whose
// driver reports the given name.
func OpenByDriver(name string) (*os.File, error) {
	for n := 0; n < maxCards; n++ {
		f, err := OpenCard(n)
		if err != nil {
			continue
		}
		v, err := GetVersion(f)
		if err == nil && v.Name == name {
			return f, nil
		}
		f.Close()
	}
	return nil, fmt.Errorf("no card driven by %q", name)
}

// OpenKMSDevice probes the known KMS driver names and returns the
// first card that answers, along with the driver name it matched.
func OpenKMSDevice() (*os.File, string, error) {
	for _, name := range knownDrivers {
		f, err := OpenByDriver(name)
		if err == nil {
			return f, name, nil
		}
	}
	return nil, "", fmt.Errorf("no card driven by a known KMS driver")
}

func open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

func GetVersion(file *os.File) (Version, error) {
	var (
		name, date, desc []byte
	)

	version := &version{}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, err
	}

	if version.namelen > 0 {
		name = make([]byte, version.namelen+1)
		version.name = uintptr(unsafe.Pointer(&name[0]))
	}

	if version.datelen > 0 {
		date = make([]byte, version.datelen+1)
		version.date = uintptr(unsafe.Pointer(&date[0]))
	}
	if version.desclen > 0 {
		desc = make([]byte, version.desclen+1)
		version.desc = uintptr(unsafe.Pointer(&desc[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, err
	}

	// remove C null byte at end
	name = name[:version.namelen]
	date = date[:version.datelen]
	desc = desc[:version.desclen]

	nozero := func(r rune) bool {
		return r == 0
	}

	v := Version{
		version: *version,
		Major:   version.Major,
		Minor:   version.Minor,
		Patch:   version.Patch,
		Name:    string(bytes.TrimFunc(name, nozero)),
		Date:    string(bytes.TrimFunc(date, nozero)),
		Desc:    string(bytes.TrimFunc(desc, nozero)),
	}

	return v, nil
}
