package capture

import "callrecorder/internal/domain"

type EventType string

const (
	EventCaptureStarted EventType = "capture-started"
	EventCaptureStopped EventType = "capture-stopped"
	EventCaptureFailed  EventType = "capture-failed"
)

// Event is emitted on capture lifecycle transitions for the CRM layer's UI
// feedback. Consumption is optional; emission never blocks capture.
type Event struct {
	Type       EventType
	SessionID  string
	Source     domain.Source
	FilePath   string
	DurationMs int64
	SizeBytes  int64
	Reason     string
}

// CallState mirrors the device telephony signal the agent observes.
type CallState string

const (
	CallIdle    CallState = "idle"
	CallRinging CallState = "ringing"
	CallOffHook CallState = "offhook"
)

// CallEvent is one observed call-state transition. OwnerRecordID carries the
// CRM's call-log identifier for the call in progress; it is opaque here.
type CallEvent struct {
	State         CallState
	OwnerRecordID string
}
