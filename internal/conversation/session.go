package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medihelp/internal/models"
)

// State is the request state of a session.
type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting-response"
)

var (
	ErrEmptyInput        = errors.New("empty chat input")
	ErrRequestInFlight   = errors.New("chat request already in flight")
	ErrChatRequestFailed = errors.New("chat request failed")
)

// ReportSource supplies the confirmed report attached to each request.
type ReportSource interface {
	Text() string
}

// Session keeps an append-only transcript and allows at most one request in
// flight. It is safe for concurrent use.
type Session struct {
	id        string
	transport Transport
	report    ReportSource
	logger    *zap.Logger

	mu        sync.Mutex
	state     State
	messages  []models.Message
	lastErr   error
	observers []func()
}

// NewSession creates an idle session with an empty transcript. An empty id
// is replaced with a random one.
func NewSession(id string, transport Transport, report ReportSource, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:        id,
		transport: transport,
		report:    report,
		logger:    logger,
		state:     StateIdle,
	}
}

// ID identifies the session for the lifetime of the process.
func (s *Session) ID() string {
	return s.id
}

// OnChange registers fn to run after every transcript or state change.
// Observers run on the goroutine that made the change, outside the lock.
func (s *Session) OnChange(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// State returns the current request state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastError returns the failure of the most recent request, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Submit sends input with the full transcript and the current confirmed
// report, streaming the reply into a new assistant message. It blocks until
// the reply completes or fails.
func (s *Session) Submit(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.state == StateAwaiting {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	s.messages = append(s.messages, models.Message{Role: models.RoleUser, Content: input, Complete: true})
	history := make([]models.Message, len(s.messages))
	copy(history, s.messages)
	s.state = StateAwaiting
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()

	var reportData string
	if s.report != nil {
		reportData = s.report.Text()
	}
	req := models.ChatRequest{
		Messages: history,
		Data:     models.ChatData{ReportData: reportData},
	}

	reply := -1
	err := s.transport.Send(ctx, req, func(chunk string) error {
		s.mu.Lock()
		if reply < 0 {
			s.messages = append(s.messages, models.Message{Role: models.RoleAssistant})
			reply = len(s.messages) - 1
		}
		s.messages[reply].Content += chunk
		s.mu.Unlock()
		s.notify()
		return nil
	})

	s.mu.Lock()
	if err != nil {
		s.lastErr = fmt.Errorf("%w: %v", ErrChatRequestFailed, err)
		err = s.lastErr
	} else if reply < 0 {
		s.messages = append(s.messages, models.Message{Role: models.RoleAssistant, Complete: true})
	} else {
		s.messages[reply].Complete = true
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.notify()

	if err != nil {
		s.logger.Warn("chat request failed", zap.String("session", s.id), zap.Error(err))
	}
	return err
}

func (s *Session) notify() {
	s.mu.Lock()
	observers := make([]func(), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}
