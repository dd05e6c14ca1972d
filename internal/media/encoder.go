package media

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/base64x"
	"go.uber.org/zap"

	"medihelp/internal/models"
)

// ErrMalformedDataURL is returned when a string is not a base64 data URL.
var ErrMalformedDataURL = errors.New("malformed data url")

// EncodeDataURL converts a normalized file into a data URL payload.
func EncodeDataURL(file models.UploadedFile) models.EncodedPayload {
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return models.EncodedPayload{
		DataURL: "data:" + mimeType + ";base64," + base64x.StdEncoding.EncodeToString(file.Data),
	}
}

// DecodeDataURL splits a data URL into its media type and decoded bytes.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: prefix", ErrMalformedDataURL)
	}
	header, body, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing body", ErrMalformedDataURL)
	}
	mimeType, params, _ := strings.Cut(header, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, fmt.Errorf("%w: not base64 encoded", ErrMalformedDataURL)
	}
	data, err := base64x.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return cleanType(mimeType), data, nil
}

// Sink receives the payload of the most recent selection.
type Sink func(seq uint64, payload models.EncodedPayload)

// Encoder produces data URLs off the caller's goroutine. Every Submit is
// tagged with a sequence number; a result is delivered only if no newer
// Submit has been issued in the meantime.
type Encoder struct {
	mu     sync.Mutex
	latest uint64
	sink   Sink
	wg     sync.WaitGroup
	logger *zap.Logger

	encode func(models.UploadedFile) models.EncodedPayload
}

// NewEncoder builds an encoder delivering to sink.
func NewEncoder(sink Sink, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{
		sink:   sink,
		logger: logger,
		encode: EncodeDataURL,
	}
}

// Submit starts encoding file and returns its sequence number.
func (e *Encoder) Submit(file models.UploadedFile) uint64 {
	e.mu.Lock()
	e.latest++
	seq := e.latest
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		payload := e.encode(file)
		e.deliver(seq, payload)
	}()
	return seq
}

// Latest returns the sequence number of the newest submission.
func (e *Encoder) Latest() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Wait blocks until every submitted encode has finished.
func (e *Encoder) Wait() {
	e.wg.Wait()
}

func (e *Encoder) deliver(seq uint64, payload models.EncodedPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.latest {
		e.logger.Debug("dropping stale encode", zap.Uint64("seq", seq), zap.Uint64("latest", e.latest))
		return
	}
	if e.sink != nil {
		e.sink(seq, payload)
	}
}
