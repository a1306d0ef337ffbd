package domain

import "time"

type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateCapturing CaptureState = "capturing"
	CaptureStateStopped   CaptureState = "stopped"
	CaptureStateFailed    CaptureState = "failed"
)

// Source identifies one way of acquiring call audio, ranked by fidelity.
type Source string

const (
	// SourceVoiceCall captures both call parties from the voice channel.
	SourceVoiceCall Source = "voice_call"
	// SourceVoiceCommunication captures the local leg of the voice channel.
	SourceVoiceCommunication Source = "voice_communication"
	// SourceMic is the microphone-only fallback available on every device.
	SourceMic Source = "mic"
)

// CaptureSession tracks the lifecycle of recording a single call.
type CaptureSession struct {
	ID            string
	State         CaptureState
	AudioSource   Source
	LocalFilePath string
	StartedAt     time.Time
	StoppedAt     *time.Time
	SizeBytes     int64
	DurationMs    int64
}
