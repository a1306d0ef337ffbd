package capture

import (
	"fmt"
	"io"
	"sync"

	"callrecorder/internal/domain"
)

// StubDevice stands in for the host platform's telephony audio capability in
// environments that have none. Only the microphone fallback opens; the stream
// carries no data and ends when closed.
type StubDevice struct{}

func (StubDevice) Open(source domain.Source, _ Params) (io.ReadCloser, error) {
	if source != domain.SourceMic {
		return nil, fmt.Errorf("source %s not available on this host", source)
	}
	return &silentStream{done: make(chan struct{})}, nil
}

type silentStream struct {
	done chan struct{}
	once sync.Once
}

func (s *silentStream) Read(_ []byte) (int, error) {
	<-s.done
	return 0, io.EOF
}

func (s *silentStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
