// Package drm provides a library to interact with DRM
// (Direct Rendering Manager) and KMS (Kernel Mode Setting) interfaces.
// DRM is a low level interface for the graphics card (gpu) and this
// package enables the creation of graphics libraries on top of the
// kernel drm/kms subsystem.
//
// The package covers the core ioctl surface of a card node: driver
// version and capability queries, client capabilities, GEM handle
// management, PRIME buffer sharing and vblank event plumbing. The
// modesetting surface (connectors, CRTCs, planes, framebuffers) lives
// in the mode subpackage.
package drm
