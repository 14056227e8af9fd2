package http

import (
	"net/http"

	"github.com/sophialabs/stubport/internal/infrastructure/ports"
)

var _ ports.ResponseSink = (*responseSink)(nil)

// responseSink adapts an http.ResponseWriter to ports.ResponseSink. The status
// is held back until the first body write so headers set after SetStatus still
// reach the client.
type responseSink struct {
	w         http.ResponseWriter
	status    int
	committed bool
}

func newResponseSink(w http.ResponseWriter) *responseSink {
	return &responseSink{w: w, status: http.StatusOK}
}

func (s *responseSink) SetStatus(code int) {
	s.status = code
}

func (s *responseSink) SetHeader(name, value string) {
	s.w.Header().Set(name, value)
}

func (s *responseSink) WriteBody(p []byte) error {
	s.commit(s.status)
	if len(p) == 0 {
		return nil
	}
	_, err := s.w.Write(p)
	return err
}

func (s *responseSink) SendError(code int, message string) error {
	if s.w.Header().Get("Content-Type") == "" {
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	s.w.Header().Set("X-Content-Type-Options", "nosniff")
	s.commit(code)
	if message == "" {
		return nil
	}
	_, err := s.w.Write([]byte(message))
	return err
}

func (s *responseSink) commit(code int) {
	if s.committed {
		return
	}
	s.committed = true
	s.w.WriteHeader(code)
}
