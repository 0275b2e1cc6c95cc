package capture

// Trigger represents an event that causes a recorder state transition.
type Trigger string

const (
	TriggerCameraGranted   Trigger = "camera_granted"
	TriggerStart           Trigger = "start"
	TriggerStopComplete    Trigger = "stop_complete"
	TriggerRecordingFailed Trigger = "recording_failed"
	TriggerDeviceLost      Trigger = "device_lost"
	TriggerDiscard         Trigger = "discard"
	TriggerConfirm         Trigger = "confirm"
	TriggerClose           Trigger = "close"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
