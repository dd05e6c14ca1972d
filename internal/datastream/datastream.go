// Package datastream implements the line-oriented chat streaming format used
// by the AI SDK's useChat hook: every line is "<type>:<json>\n".
package datastream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	HeaderName  = "X-Vercel-AI-Data-Stream"
	HeaderValue = "v1"
	ContentType = "text/plain; charset=utf-8"
)

const (
	partText          = "0"
	partError         = "3"
	partStartStep     = "f"
	partFinishStep    = "e"
	partFinishMessage = "d"
)

var (
	// ErrIncomplete is returned when a stream ends without a finish part.
	ErrIncomplete = errors.New("stream ended before finish")
	// ErrRemote wraps an error part sent by the server.
	ErrRemote = errors.New("remote stream error")
)

const maxLineBytes = 4 << 20

// Writer emits stream parts, flushing after each one when possible.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w. If w is an http.Flusher every part is flushed.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// SetHeaders sets the response headers the client expects.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set(HeaderName, HeaderValue)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

// Start announces a new assistant message.
func (w *Writer) Start(messageID string) error {
	return w.write(partStartStep, map[string]string{"messageId": messageID})
}

// Text sends one chunk of assistant output.
func (w *Writer) Text(chunk string) error {
	if chunk == "" {
		return nil
	}
	return w.write(partText, chunk)
}

// Error sends an error part. The client treats it as a failed request.
func (w *Writer) Error(message string) error {
	return w.write(partError, message)
}

// Finish closes the step and the message.
func (w *Writer) Finish(reason string) error {
	if reason == "" {
		reason = "stop"
	}
	if err := w.write(partFinishStep, map[string]any{"finishReason": reason, "isContinued": false}); err != nil {
		return err
	}
	return w.write(partFinishMessage, map[string]any{"finishReason": reason})
}

func (w *Writer) write(kind string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s part: %w", kind, err)
	}
	if _, err := fmt.Fprintf(w.w, "%s:%s\n", kind, data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Read consumes a stream, calling onText for every text part. It returns nil
// only after a finish part has been read.
func Read(r io.Reader, onText func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		kind, payload, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("malformed stream line %q", line)
		}
		switch kind {
		case partText:
			var chunk string
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				return fmt.Errorf("decode text part: %w", err)
			}
			if onText != nil {
				if err := onText(chunk); err != nil {
					return err
				}
			}
		case partError:
			var msg string
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				msg = payload
			}
			return fmt.Errorf("%w: %s", ErrRemote, msg)
		case partFinishMessage:
			return nil
		default:
			// step markers, annotations and tool parts carry nothing we render
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrIncomplete
}
