// Package workspace coordinates the upload, extraction, confirmation and chat
// steps of a single user's session.
package workspace

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"medihelp/internal/conversation"
	"medihelp/internal/extraction"
	"medihelp/internal/media"
	"medihelp/internal/models"
	"medihelp/internal/report"
)

// ErrExtractionRunning is returned when Extract is called while a previous
// extraction has not finished.
var ErrExtractionRunning = errors.New("extraction already running")

// Extractor turns an encoded upload into report text.
type Extractor interface {
	Extract(ctx context.Context, payload models.EncodedPayload) (string, error)
}

// ExtractionState describes the most recent extraction attempt.
type ExtractionState string

const (
	ExtractionIdle    ExtractionState = "idle"
	ExtractionRunning ExtractionState = "extracting"
	ExtractionDone    ExtractionState = "done"
	ExtractionFailed  ExtractionState = "failed"
)

// Workspace holds the selected upload, the editable report draft and the
// chat session. The confirmed report lives in the shared holder.
type Workspace struct {
	extractor Extractor
	holder    *report.Holder
	session   *conversation.Session
	notifier  Notifier
	logger    *zap.Logger
	encoder   *media.Encoder

	mu         sync.Mutex
	tab        models.Picker
	payload    models.EncodedPayload
	draft      string
	extraction ExtractionState
	extractErr error
}

// New wires a workspace. notifier and logger may be nil.
func New(extractor Extractor, holder *report.Holder, session *conversation.Session, notifier Notifier, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	if holder == nil {
		holder = report.NewHolder()
	}
	w := &Workspace{
		extractor:  extractor,
		holder:     holder,
		session:    session,
		notifier:   notifier,
		logger:     logger,
		tab:        models.PickerDocument,
		extraction: ExtractionIdle,
	}
	w.encoder = media.NewEncoder(w.setPayload, logger.Named("encoder"))
	return w
}

// Tab returns the active picker.
func (w *Workspace) Tab() models.Picker {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tab
}

// SetTab switches the active picker. The selected payload is kept.
func (w *Workspace) SetTab(picker models.Picker) {
	w.mu.Lock()
	w.tab = picker
	w.mu.Unlock()
}

// SelectDocument accepts an image or PDF selection.
func (w *Workspace) SelectDocument(file models.UploadedFile) error {
	return w.selectFile(file, models.PickerDocument)
}

// SelectAudio accepts an audio selection.
func (w *Workspace) SelectAudio(file models.UploadedFile) error {
	return w.selectFile(file, models.PickerAudio)
}

func (w *Workspace) selectFile(file models.UploadedFile, picker models.Picker) error {
	w.SetTab(picker)
	normalized, err := media.Normalize(file, picker)
	if err != nil {
		w.logger.Info("selection rejected", zap.String("file", file.Name), zap.Error(err))
		w.notifier.Notify(Notification{Level: LevelError, Message: unsupportedMessage(picker)})
		return err
	}
	seq := w.encoder.Submit(normalized)
	w.logger.Debug("encoding selection",
		zap.String("file", file.Name),
		zap.String("mime", normalized.MimeType),
		zap.Int("bytes", len(normalized.Data)),
		zap.Uint64("seq", seq))
	return nil
}

// WaitEncoded blocks until every pending selection has been encoded.
func (w *Workspace) WaitEncoded() {
	w.encoder.Wait()
}

func (w *Workspace) setPayload(_ uint64, payload models.EncodedPayload) {
	w.mu.Lock()
	w.payload = payload
	w.mu.Unlock()
}

// Payload returns the payload of the latest encoded selection.
func (w *Workspace) Payload() models.EncodedPayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.payload
}

// Extract sends the current payload for extraction and stores the cleaned
// text as the draft. On failure the draft is left as it was.
func (w *Workspace) Extract(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.extraction == ExtractionRunning {
		w.mu.Unlock()
		return "", ErrExtractionRunning
	}
	payload, tab := w.payload, w.tab
	if payload.Empty() {
		w.mu.Unlock()
		w.notifier.Notify(Notification{Level: LevelError, Message: missingMessage(tab)})
		return "", extraction.ErrMissingInput
	}
	w.extraction = ExtractionRunning
	w.extractErr = nil
	w.mu.Unlock()

	text, err := w.extractor.Extract(ctx, payload)

	w.mu.Lock()
	if err != nil {
		w.extraction = ExtractionFailed
		w.extractErr = err
	} else {
		w.extraction = ExtractionDone
		w.draft = text
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("extraction failed", zap.Error(err))
		msg := msgExtractionFailed
		if errors.Is(err, extraction.ErrMissingInput) {
			msg = missingMessage(tab)
		}
		w.notifier.Notify(Notification{Level: LevelError, Message: msg})
		return "", err
	}
	return text, nil
}

// Extracting reports whether an extraction is running.
func (w *Workspace) Extracting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extraction == ExtractionRunning
}

// Extraction returns the state of the last extraction and its error, if it
// failed.
func (w *Workspace) Extraction() (ExtractionState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extraction, w.extractErr
}

// Draft returns the editable report text.
func (w *Workspace) Draft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// Edit replaces the draft.
func (w *Workspace) Edit(text string) {
	w.mu.Lock()
	w.draft = text
	w.mu.Unlock()
}

// Confirm publishes the draft, whatever it holds, as the confirmed report.
func (w *Workspace) Confirm() string {
	draft := w.Draft()
	w.holder.Confirm(draft)
	w.logger.Info("report confirmed", zap.Int("length", len(draft)))
	return draft
}

// ReportStatus is the badge text shown above the chat.
func (w *Workspace) ReportStatus() string {
	if w.holder.Text() != "" {
		return StatusReportAdded
	}
	return StatusNoReport
}

// Session returns the chat session.
func (w *Workspace) Session() *conversation.Session {
	return w.session
}

// Ask submits a chat message. Request failures are also reported through the
// notifier; rejected submissions are only returned.
func (w *Workspace) Ask(ctx context.Context, input string) error {
	err := w.session.Submit(ctx, input)
	if errors.Is(err, conversation.ErrChatRequestFailed) {
		w.notifier.Notify(Notification{Level: LevelError, Message: msgChatFailed})
	}
	return err
}
