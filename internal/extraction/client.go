package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"medihelp/internal/models"
)

// Path is the extraction endpoint relative to the server base URL.
const Path = "/api/listgeminireport"

const maxReportBytes = 1 << 20

var (
	// ErrMissingInput is returned when extraction is attempted without a payload.
	ErrMissingInput = errors.New("missing input")
	// ErrExtractionFailed covers transport failures and non-2xx responses.
	ErrExtractionFailed = errors.New("extraction failed")
)

// Client calls the remote extraction endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type extractRequest struct {
	Base64 string `json:"base64"`
}

// Extract posts payload to the extraction endpoint and returns the cleaned report.
func (c *Client) Extract(ctx context.Context, payload models.EncodedPayload) (string, error) {
	if payload.Empty() {
		return "", ErrMissingInput
	}
	body, err := json.Marshal(extractRequest{Base64: payload.DataURL})
	if err != nil {
		return "", fmt.Errorf("marshal extract request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("extraction request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrExtractionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("extraction endpoint rejected payload",
			zap.Int("status", resp.StatusCode),
			zap.String("mime", payload.MimeType()),
		)
		return "", fmt.Errorf("%w: %s", ErrExtractionFailed, resp.Status)
	}
	return CleanReport(string(raw)), nil
}
