package mode

import (
	"bytes"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kmsink/drm"
	"github.com/NeowayLabs/kmsink/drm/ioctl"
)

// Object types for the object property ioctls.
const (
	ObjectCrtc      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectMode      = 0xdededede
	ObjectProperty  = 0xb0b0b0b0
	ObjectFB        = 0xfbfbfbfb
	ObjectBlob      = 0xbbbbbbbb
	ObjectPlane     = 0xeeeeee00
	ObjectAny       = 0
)

type (
	sysObjGetProperties struct {
		propsPtr      uintptr
		propValuesPtr uintptr
		countProps    uint32
		objID         uint32
		objType       uint32
	}

	sysObjSetProperty struct {
		value   uint64
		propID  uint32
		objID   uint32
		objType uint32
	}

	sysGetProperty struct {
		valuesPtr   uintptr
		enumBlobPtr uintptr

		propID uint32
		flags  uint32
		name   [PropNameLen]uint8

		countValues    uint32
		countEnumBlobs uint32
	}

	// Property is one exposed property of a KMS object together
	// with its value at query time.
	Property struct {
		ID    uint32
		Name  string
		Value uint64
	}
)

var (
	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	IOCTLModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetProperty{})), drm.IOCTLBase, 0xAA)

	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	IOCTLModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjGetProperties{})), drm.IOCTLBase, 0xB9)

	// DRM_IOWR(0xBA, struct drm_mode_obj_set_property)
	IOCTLModeObjSetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjSetProperty{})), drm.IOCTLBase, 0xBA)
)

// GetPropertyName resolves a property id to its name.
func GetPropertyName(file *os.File, propID uint32) (string, error) {
	prop := &sysGetProperty{}
	prop.propID = propID
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(prop)))
	if err != nil {
		return "", err
	}
	name := prop.name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}

// ObjectProperties returns the properties attached to a KMS object
// (plane, connector, crtc) with resolved names and current values.
func ObjectProperties(file *os.File, objID, objType uint32) ([]Property, error) {
	obj := &sysObjGetProperties{}
	obj.objID = objID
	obj.objType = objType
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(obj)))
	if err != nil {
		return nil, err
	}

	var (
		ids    []uint32
		values []uint64
	)
	if obj.countProps > 0 {
		ids = make([]uint32, obj.countProps)
		obj.propsPtr = uintptr(unsafe.Pointer(&ids[0]))
		values = make([]uint64, obj.countProps)
		obj.propValuesPtr = uintptr(unsafe.Pointer(&values[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(obj)))
	if err != nil {
		return nil, err
	}

	props := make([]Property, 0, obj.countProps)
	for i := uint32(0); i < obj.countProps; i++ {
		name, err := GetPropertyName(file, ids[i])
		if err != nil {
			return nil, err
		}
		props = append(props, Property{ID: ids[i], Name: name, Value: values[i]})
	}
	return props, nil
}

// SetObjectProperty changes one property on a KMS object.
func SetObjectProperty(file *os.File, objID, objType, propID uint32, value uint64) error {
	obj := &sysObjSetProperty{
		value:   value,
		propID:  propID,
		objID:   objID,
		objType: objType,
	}
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjSetProperty),
		uintptr(unsafe.Pointer(obj)))
}
