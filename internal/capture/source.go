package capture

import (
	"errors"
	"fmt"
	"io"

	"callrecorder/internal/domain"
)

// Params are the fixed target parameters used for every candidate probe.
type Params struct {
	SampleRate int
	BitRate    int
	Channels   int
	Container  string
}

func DefaultParams() Params {
	return Params{
		SampleRate: 44100,
		BitRate:    64000,
		Channels:   1,
		Container:  "m4a",
	}
}

// Device abstracts the platform's audio capability. The host injects a real
// implementation; tests inject fakes. Open returns a stream of encoded audio
// that ends when the stream is closed.
type Device interface {
	Open(source domain.Source, params Params) (io.ReadCloser, error)
}

// probeOrder ranks capture sources from "captures both call parties" down to
// the microphone-only fallback every device has. The ordering is the whole
// policy; selection itself is a plain walk.
var probeOrder = []domain.Source{
	domain.SourceVoiceCall,
	domain.SourceVoiceCommunication,
	domain.SourceMic,
}

// ErrNoUsableSource is returned when every candidate fails to open.
var ErrNoUsableSource = errors.New("no usable capture source")

// Candidates returns the probe order, with preferred moved to the front when
// it is a known source.
func Candidates(preferred domain.Source) []domain.Source {
	out := make([]domain.Source, 0, len(probeOrder))
	if preferred != "" {
		for _, s := range probeOrder {
			if s == preferred {
				out = append(out, s)
				break
			}
		}
	}
	for _, s := range probeOrder {
		if len(out) > 0 && s == out[0] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Negotiate opens the first candidate source that works. The chosen source is
// returned so the caller can persist it as the new preference; no hidden
// global state.
func Negotiate(dev Device, preferred domain.Source, params Params) (domain.Source, io.ReadCloser, error) {
	var lastErr error
	for _, candidate := range Candidates(preferred) {
		stream, err := dev.Open(candidate, params)
		if err != nil {
			lastErr = err
			continue
		}
		return candidate, stream, nil
	}
	if lastErr != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNoUsableSource, lastErr)
	}
	return "", nil, ErrNoUsableSource
}
