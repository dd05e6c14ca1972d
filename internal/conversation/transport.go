package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medihelp/internal/datastream"
	"medihelp/internal/models"
)

// Path is the chat endpoint relative to the server base URL.
const Path = "/api/resumechat"

// SessionHeader carries the client session id so the server can serialize
// requests per session.
const SessionHeader = "X-Session-ID"

// Transport delivers one chat request and streams the reply through onChunk.
type Transport interface {
	Send(ctx context.Context, req models.ChatRequest, onChunk func(string) error) error
}

// HTTPTransport posts chat requests to a MediHelp server.
type HTTPTransport struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

// NewHTTPTransport builds a transport for the server at baseURL. No timeout
// is set on the default client; callers bound requests through ctx.
func NewHTTPTransport(baseURL, sessionID string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
		httpClient: httpClient,
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req models.ChatRequest, onChunk func(string) error) error {
	if req.Messages == nil {
		req.Messages = []models.Message{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.sessionID != "" {
		httpReq.Header.Set(SessionHeader, t.sessionID)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("chat endpoint: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return datastream.Read(resp.Body, onChunk)
}
