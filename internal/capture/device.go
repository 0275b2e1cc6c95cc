// Package capture drives a camera/microphone device to produce a single
// finite video-note blob, handling permission, codec negotiation, and
// device-loss recovery.
package capture

import (
	"context"
	"errors"
)

// Facing is the preferred camera orientation.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
	FacingAny   Facing = "any"
)

// Device errors surfaced by MediaDevices implementations. Each maps to a
// distinct operator-facing message.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceInUse      = errors.New("camera is in use by another application")
	ErrNotSupported     = errors.New("camera capture is not supported on this platform")
	ErrNoMicrophone     = errors.New("no microphone available")
	ErrOverconstrained  = errors.New("requested device cannot satisfy constraints")
)

// DeviceInfo identifies an enumerable capture device.
type DeviceInfo struct {
	ID    string
	Label string
}

// Constraints select a device when opening a stream. DeviceID pins an exact
// device; otherwise Facing is a hint the platform may satisfy loosely.
type Constraints struct {
	DeviceID string
	Facing   Facing
	Audio    bool
}

// Stream is a live camera (and optionally microphone) stream.
type Stream interface {
	// Label returns the camera's human-readable label, if known.
	Label() string
	// HasAudio reports whether an audio track was acquired.
	HasAudio() bool
	// OnEnded registers a callback fired when the device reports it ended
	// unexpectedly. Passing nil clears the callback.
	OnEnded(fn func())
	// Close releases the device. Closing may fire the ended callback on
	// some platforms; callers must tolerate that.
	Close()
}

// MediaDevices abstracts the platform's device layer. Enumeration commonly
// returns empty labels until at least one stream has been granted.
type MediaDevices interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// CaptureSession is an active recording against a live stream. Chunks
// arrive asynchronously through the data callback registered at creation;
// platforms may deliver the final chunk well after Stop returns.
type CaptureSession interface {
	// MimeType returns the mime type actually negotiated, which may differ
	// from the one requested.
	MimeType() string
	// RequestData asks the platform to flush a chunk immediately.
	RequestData()
	// Stop ends the recording. The final chunk may still be in flight.
	Stop()
}

// SessionFactory probes codec support and opens capture sessions.
type SessionFactory interface {
	// Supported reports whether the platform can record the mime type.
	// Implementations for platforms that cannot probe return false for
	// everything; an empty mime type then selects the platform default.
	Supported(mimeType string) bool
	// NewSession begins recording. timesliceMillis requests a chunk flush
	// at a fixed interval so at least one chunk exists even if recording
	// stops abruptly. onData receives every flushed chunk.
	NewSession(s Stream, mimeType string, timesliceMillis int, onData func([]byte)) (CaptureSession, error)
}

// codecPreference lists container/codec pairs from most to least compatible.
// The first pair the platform reports as supported wins; a technically
// superior but narrower codec never outranks a widely-decodable one.
var codecPreference = []string{
	"video/webm;codecs=vp8,opus",
	"video/webm",
	"video/mp4",
}

// negotiateMimeType picks the recording mime type. Empty means "platform
// default" for platforms that cannot probe.
func negotiateMimeType(f SessionFactory) string {
	for _, mt := range codecPreference {
		if f.Supported(mt) {
			return mt
		}
	}
	return ""
}
