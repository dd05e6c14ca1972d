package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"medihelp/internal/models"
)

// Extractor turns an uploaded file into report text.
type Extractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

// ChatStreamer answers a transcript, calling onChunk for every piece of the
// reply.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []models.Message, reportData string, onChunk func(string) error) error
}

// Manager runs extraction and chat calls on the dispatcher's workers.
type Manager struct {
	extractor   Extractor
	chat        ChatStreamer
	guard       Guard
	dispatcher  *Dispatcher
	chatTimeout time.Duration
	logger      *zap.Logger
}

// NewManager starts a dispatcher sized by cfg. A nil guard means in-memory.
func NewManager(extractor Extractor, chat ChatStreamer, guard Guard, cfg DispatcherConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	m := &Manager{
		extractor:   extractor,
		chat:        chat,
		guard:       guard,
		chatTimeout: cfg.ChatTimeout,
		logger:      logger,
	}
	m.dispatcher = NewDispatcher(cfg, m.handle, logger.Named("dispatcher"))
	return m
}

// Close stops the dispatcher.
func (m *Manager) Close() {
	m.dispatcher.Close()
}

// Extract blocks until the extraction job finishes or ctx ends before a
// worker picks it up.
func (m *Manager) Extract(req ExtractRequest) (string, error) {
	ctx := contextOrBackground(req.Context)
	task := &extractTask{req: req, resultCh: make(chan extractResult, 1)}
	if err := m.dispatcher.Submit(Job{Type: Extract, Key: req.SessionKey, extract: task}); err != nil {
		return "", err
	}
	select {
	case ret := <-task.resultCh:
		return ret.text, ret.err
	case <-ctx.Done():
		if task.drop() {
			return "", ctx.Err()
		}
		ret := <-task.resultCh
		return ret.text, ret.err
	}
}

// Chat claims the session's in-flight slot, then streams one reply through
// req.ChunkFn. A second Chat for the same session fails with ErrChatInFlight
// until the first returns.
func (m *Manager) Chat(req ChatRequest) error {
	ctx := contextOrBackground(req.Context)
	release, err := m.guard.Acquire(ctx, req.SessionKey)
	if err != nil {
		return err
	}
	defer release()

	task := &chatTask{req: req, resultCh: make(chan error, 1)}
	if err := m.dispatcher.Submit(Job{Type: Chat, Key: req.SessionKey, chat: task}); err != nil {
		return err
	}
	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		if task.drop() {
			return ctx.Err()
		}
		// already streaming; the streamer sees the same ctx
		return <-task.resultCh
	}
}

func (m *Manager) handle(job Job) {
	switch job.Type {
	case Extract:
		m.handleExtract(job.extract)
	case Chat:
		m.handleChat(job.chat)
	}
}

func (m *Manager) handleExtract(task *extractTask) {
	if task == nil || !task.start() {
		return
	}
	ctx := contextOrBackground(task.req.Context)
	start := time.Now()
	text, err := m.extractor.Extract(ctx, task.req.MimeType, task.req.Data)
	if err != nil {
		err = fmt.Errorf("extract: %w", err)
	}
	m.logger.Debug("extract job done",
		zap.String("session", task.req.SessionKey),
		zap.String("mime", task.req.MimeType),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	task.resultCh <- extractResult{text: text, err: err}
}

func (m *Manager) handleChat(task *chatTask) {
	if task == nil || !task.start() {
		return
	}
	ctx := contextOrBackground(task.req.Context)
	if m.chatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.chatTimeout)
		defer cancel()
	}
	onChunk := task.req.ChunkFn
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	start := time.Now()
	err := m.chat.StreamChat(ctx, task.req.Messages, task.req.ReportData, onChunk)
	m.logger.Debug("chat job done",
		zap.String("session", task.req.SessionKey),
		zap.Int("messages", len(task.req.Messages)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	task.resultCh <- err
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
