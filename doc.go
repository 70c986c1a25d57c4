// Package kmsink presents video frames on a DRM/KMS display.
//
// A Sink binds one connector, CRTC and plane of a card, configures
// the display mode to match the incoming stream when needed, and
// schedules every frame on the vertical blank. Interlaced streams
// delivered one field per buffer get field-inversion avoidance, and
// presentation timestamps can be corrected to follow the display's
// own vblank cadence.
//
// A single streaming goroutine drives Start, SetFormat, Show and
// Stop. SetRenderRectangle, Expose, QueueROI and HandleSEI may be
// called concurrently from a UI or control goroutine.
package kmsink
