package drm

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/kmsink/drm/ioctl"
)

type (
	sysGemClose struct {
		handle uint32
		pad    uint32
	}

	sysPrimeHandle struct {
		handle uint32
		flags  uint32
		fd     int32
	}
)

// CloseBufferHandle drops the reference this file holds on a GEM
// buffer handle. Handles obtained more than once (e.g. importing the
// same dmabuf fd twice) are a single reference and must be closed
// once.
func CloseBufferHandle(file *os.File, handle uint32) error {
	gem := &sysGemClose{handle: handle}
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGemClose),
		uintptr(unsafe.Pointer(gem)))
}

// PrimeFDToHandle imports a dmabuf file descriptor and returns the
// GEM handle it maps to on this device. Requires PrimeCapImport.
func PrimeFDToHandle(file *os.File, fd int) (uint32, error) {
	prime := &sysPrimeHandle{fd: int32(fd)}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLPrimeFDToHandle),
		uintptr(unsafe.Pointer(prime)))
	if err != nil {
		return 0, err
	}
	return prime.handle, nil
}

// PrimeHandleToFD exports a GEM handle as a dmabuf file descriptor.
// flags is a combination of O_CLOEXEC and O_RDWR. Requires
// PrimeCapExport.
func PrimeHandleToFD(file *os.File, handle uint32, flags uint32) (int, error) {
	prime := &sysPrimeHandle{handle: handle, flags: flags}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLPrimeHandleToFD),
		uintptr(unsafe.Pointer(prime)))
	if err != nil {
		return -1, err
	}
	return int(prime.fd), nil
}
