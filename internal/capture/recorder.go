package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
)

// Session-level errors. Recording glitches are deliberately distinct from
// device errors: the operator is told to retry, not shown a hardware fault.
var (
	ErrCameraDisconnected = errors.New("camera disconnected")
	ErrRecordingTooShort  = errors.New("recording produced no usable data")
)

// Config tunes a recorder session.
type Config struct {
	MaxDuration        time.Duration
	MinBlobBytes       int
	ChunkInterval      time.Duration
	StopFlushGrace     time.Duration
	ExtraFrontKeywords []string
	ExtraBackKeywords  []string
}

// DefaultConfig returns recorder defaults matching the hosted console.
func DefaultConfig() Config {
	return Config{
		MaxDuration:    60 * time.Second,
		MinBlobBytes:   1024,
		ChunkInterval:  time.Second,
		StopFlushGrace: 300 * time.Millisecond,
	}
}

// Recording is the assembled video-note blob handed to the composer. The
// blob is owned exclusively by the session until Confirm hands it off.
type Recording struct {
	FileName string
	MimeType string
	Data     []byte
	Duration time.Duration
}

// Session is one recorder dialog: a state machine over the device layer
// producing at most one Recording. All device handles are released on every
// exit path through a single teardown function.
type Session struct {
	sm      *stateless.StateMachine
	devices MediaDevices
	factory SessionFactory
	cfg     Config
	log     *slog.Logger

	mu          sync.Mutex
	stream      Stream
	capture     CaptureSession
	chunks      [][]byte
	facing      Facing
	cameraLabel string
	micMissing  bool
	recording   *Recording
	startedAt   time.Time
	maxTimer    *time.Timer
	stopping    bool
	lastErr     error
}

// NewSession creates a recorder session in the idle state.
func NewSession(devices MediaDevices, factory SessionFactory, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 60 * time.Second
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = time.Second
	}

	s := &Session{
		devices: devices,
		factory: factory,
		cfg:     cfg,
		facing:  FacingFront,
		log:     log,
	}

	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(TriggerCameraGranted, StateReady).
		Permit(TriggerDeviceLost, StateError).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateReady).
		Permit(TriggerStart, StateRecording).
		Permit(TriggerDeviceLost, StateError).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateRecording).
		Permit(TriggerStopComplete, StatePreview).
		Permit(TriggerRecordingFailed, StateReady).
		Permit(TriggerDeviceLost, StateError).
		Permit(TriggerClose, StateClosed)

	// Preview deliberately has no device-lost transition: releasing the
	// camera during the stop sequence fires the same low-level ended
	// notification, and it must not misfire an error here.
	sm.Configure(StatePreview).
		Permit(TriggerDiscard, StateReady).
		Permit(TriggerConfirm, StateClosed).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateError).
		Permit(TriggerCameraGranted, StateReady).
		PermitReentry(TriggerDeviceLost).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateClosed)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		s.log.Debug("recorder transition",
			"from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	s.sm = sm
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	st, err := s.sm.State(context.Background())
	if err != nil {
		return StateClosed
	}
	return st.(State)
}

// Facing returns the current camera facing preference.
func (s *Session) Facing() Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// CameraLabel returns the label of the acquired camera, if known.
func (s *Session) CameraLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraLabel
}

// MicMissing reports whether the session is running video-only because no
// microphone was available. Non-fatal.
func (s *Session) MicMissing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micMissing
}

// LastError returns the most recent session error.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Elapsed returns the current recording duration.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording != nil {
		return s.recording.Duration
	}
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// EnableCamera acquires the camera and arms the session. Valid from idle
// and, as the manual re-arm action, from error.
func (s *Session) EnableCamera(ctx context.Context) error {
	st := s.State()
	if st != StateIdle && st != StateError {
		return fmt.Errorf("cannot enable camera in state %s", st)
	}

	s.mu.Lock()
	facing := s.facing
	s.mu.Unlock()

	if err := s.acquire(ctx, facing); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if ferr := s.sm.FireCtx(ctx, TriggerDeviceLost); ferr != nil {
			s.log.Error("state transition failed", "trigger", TriggerDeviceLost, "error", ferr)
		}
		return err
	}

	if err := s.sm.FireCtx(ctx, TriggerCameraGranted); err != nil {
		s.teardown()
		return err
	}
	return nil
}

// acquire opens the camera pinned to a label-matched device when possible.
// Device enumeration returns no labels before the first grant on common
// mobile platforms, so a throwaway any-camera request runs first.
func (s *Session) acquire(ctx context.Context, facing Facing) error {
	var deviceID string

	probe, err := s.devices.Open(ctx, Constraints{Facing: FacingAny})
	if err == nil {
		probe.Close()
		if devices, enumErr := s.devices.Enumerate(ctx); enumErr == nil {
			if d, ok := matchDevice(devices, facing, s.cfg.ExtraFrontKeywords, s.cfg.ExtraBackKeywords); ok {
				deviceID = d.ID
			}
		} else {
			s.log.Debug("device enumeration failed", "error", enumErr)
		}
	} else if !isRecoverableProbeErr(err) {
		return err
	}

	var stream Stream
	if deviceID != "" {
		stream, err = s.openStream(ctx, Constraints{DeviceID: deviceID, Audio: true})
		if errors.Is(err, ErrOverconstrained) {
			stream, err = s.openStream(ctx, Constraints{Facing: facing, Audio: true})
		}
	} else {
		stream, err = s.openStream(ctx, Constraints{Facing: facing, Audio: true})
	}
	if err != nil {
		return err
	}

	stream.OnEnded(s.onDeviceEnded)

	s.mu.Lock()
	s.stream = stream
	s.cameraLabel = stream.Label()
	s.micMissing = !stream.HasAudio()
	s.mu.Unlock()
	return nil
}

// openStream opens with audio, dropping to video-only when the platform has
// no microphone.
func (s *Session) openStream(ctx context.Context, c Constraints) (Stream, error) {
	stream, err := s.devices.Open(ctx, c)
	if errors.Is(err, ErrNoMicrophone) {
		c.Audio = false
		stream, err = s.devices.Open(ctx, c)
	}
	return stream, err
}

// isRecoverableProbeErr reports whether a failed throwaway probe still
// allows an unconstrained open attempt.
func isRecoverableProbeErr(err error) bool {
	return errors.Is(err, ErrOverconstrained)
}

// ToggleFacing re-acquires the camera with the opposite facing preference.
// Only valid while armed and not recording.
func (s *Session) ToggleFacing(ctx context.Context) error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("cannot toggle camera in state %s", st)
	}

	s.mu.Lock()
	s.facing = otherFacing(s.facing)
	facing := s.facing
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.OnEnded(nil)
		stream.Close()
	}

	if err := s.acquire(ctx, facing); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if ferr := s.sm.FireCtx(ctx, TriggerDeviceLost); ferr != nil {
			s.log.Error("state transition failed", "trigger", TriggerDeviceLost, "error", ferr)
		}
		return err
	}
	return nil
}

// StartRecording opens a capture session against the live stream using the
// most compatible supported codec and begins collecting chunks. Data is
// flushed at a fixed interval so at least one chunk exists even if the
// recording stops abruptly.
func (s *Session) StartRecording(ctx context.Context) error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("cannot start recording in state %s", st)
	}

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return ErrCameraDisconnected
	}

	mimeType := negotiateMimeType(s.factory)
	cs, err := s.factory.NewSession(stream, mimeType, int(s.cfg.ChunkInterval/time.Millisecond), s.onData)
	if err != nil {
		// Codec failure is an encoding error: stay armed, let the user retry.
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	s.mu.Lock()
	s.chunks = nil
	s.capture = cs
	s.startedAt = time.Now()
	s.stopping = false
	s.maxTimer = time.AfterFunc(s.cfg.MaxDuration, func() {
		if err := s.StopRecording(context.Background()); err != nil {
			s.log.Warn("auto-stop failed", "error", err)
		}
	})
	s.mu.Unlock()

	if err := s.sm.FireCtx(ctx, TriggerStart); err != nil {
		cs.Stop()
		return err
	}
	return nil
}

func (s *Session) onData(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
}

// StopRecording ends the capture and assembles the blob. The final data
// flush is forced and given a short grace period to arrive, since some
// platforms deliver it asynchronously after stop. A blob below the minimum
// byte threshold is a transient glitch: the session returns to ready with
// ErrRecordingTooShort and nothing is handed off. On success the state is
// durably preview before the device is released, so the ended notification
// fired by the release cannot misfire the error transition.
func (s *Session) StopRecording(ctx context.Context) error {
	if st := s.State(); st != StateRecording {
		return fmt.Errorf("cannot stop recording in state %s", st)
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cs := s.capture
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
	duration := time.Since(s.startedAt)
	s.mu.Unlock()

	if cs == nil {
		return ErrCameraDisconnected
	}

	cs.RequestData()
	cs.Stop()
	time.Sleep(s.cfg.StopFlushGrace)

	s.mu.Lock()
	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}

	if total < s.cfg.MinBlobBytes {
		s.chunks = nil
		s.capture = nil
		s.stopping = false
		s.lastErr = ErrRecordingTooShort
		s.mu.Unlock()

		if err := s.sm.FireCtx(ctx, TriggerRecordingFailed); err != nil {
			s.log.Error("state transition failed", "trigger", TriggerRecordingFailed, "error", err)
		}
		return ErrRecordingTooShort
	}

	// Tag the blob with the mime type the platform actually negotiated;
	// platforms may silently substitute the requested one.
	actualMime := cs.MimeType()
	data := make([]byte, 0, total)
	for _, c := range s.chunks {
		data = append(data, c...)
	}
	s.recording = &Recording{
		FileName: recordingFileName(actualMime, time.Now()),
		MimeType: actualMime,
		Data:     data,
		Duration: duration,
	}
	s.chunks = nil
	s.capture = nil
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if err := s.sm.FireCtx(ctx, TriggerStopComplete); err != nil {
		// A concurrent Close already tore the session down; the stream
		// detached above is ours to release.
		if stream != nil {
			stream.Close()
		}
		return err
	}

	// Release sequenced after the preview transition above.
	if stream != nil {
		stream.Close()
	}
	return nil
}

// Discard drops the preview blob and re-arms the camera.
func (s *Session) Discard(ctx context.Context) error {
	if err := s.sm.FireCtx(ctx, TriggerDiscard); err != nil {
		return err
	}

	s.mu.Lock()
	s.recording = nil
	facing := s.facing
	s.mu.Unlock()

	if err := s.acquire(ctx, facing); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if ferr := s.sm.FireCtx(ctx, TriggerDeviceLost); ferr != nil {
			s.log.Error("state transition failed", "trigger", TriggerDeviceLost, "error", ferr)
		}
		return err
	}
	return nil
}

// Confirm hands the assembled blob off and ends the session.
func (s *Session) Confirm(ctx context.Context) (*Recording, error) {
	s.mu.Lock()
	rec := s.recording
	s.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("no recording to confirm")
	}

	if err := s.sm.FireCtx(ctx, TriggerConfirm); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.recording = nil
	s.mu.Unlock()
	s.teardown()
	return rec, nil
}

// Preview returns the assembled blob while in preview, without ending the
// session.
func (s *Session) Preview() *Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// onDeviceEnded handles the low-level "device ended" notification. The
// transition is suppressed in preview and closed, where releasing the
// device during a legitimate stop sequence fires the same notification.
func (s *Session) onDeviceEnded() {
	st := s.State()
	if st == StatePreview || st == StateClosed {
		return
	}

	s.mu.Lock()
	s.lastErr = ErrCameraDisconnected
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
	cs := s.capture
	s.capture = nil
	s.chunks = nil
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if cs != nil {
		cs.Stop()
	}
	if stream != nil {
		stream.OnEnded(nil)
		stream.Close()
	}

	if err := s.sm.FireCtx(context.Background(), TriggerDeviceLost); err != nil {
		s.log.Error("state transition failed", "trigger", TriggerDeviceLost, "error", err)
	}
}

// Close ends the session from any state, releasing all device handles and
// the recorded blob. Safe to call more than once.
func (s *Session) Close() {
	if s.State() == StateClosed {
		return
	}
	if err := s.sm.FireCtx(context.Background(), TriggerClose); err != nil {
		s.log.Error("state transition failed", "trigger", TriggerClose, "error", err)
	}
	s.teardown()
}

// teardown is the single cleanup path for every session exit.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
	cs := s.capture
	s.capture = nil
	stream := s.stream
	s.stream = nil
	s.chunks = nil
	s.recording = nil
	s.mu.Unlock()

	if cs != nil {
		cs.Stop()
	}
	if stream != nil {
		stream.OnEnded(nil)
		stream.Close()
	}
}

// UserMessage maps a session error to a distinct operator-facing message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access was denied. Allow camera access and try again."
	case errors.Is(err, ErrDeviceInUse):
		return "The camera is in use by another application."
	case errors.Is(err, ErrNotSupported):
		return "Camera capture is not supported on this device."
	case errors.Is(err, ErrCameraDisconnected):
		return "The camera was disconnected. Enable the camera to try again."
	case errors.Is(err, ErrRecordingTooShort):
		return "The recording was too short. Please try again."
	default:
		return "Recording failed. Please try again."
	}
}

func recordingFileName(mimeType string, now time.Time) string {
	ext := ".webm"
	if strings.Contains(mimeType, "mp4") {
		ext = ".mp4"
	}
	return "video_note_" + now.Format("20060102_150405") + ext
}
