package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medihelp/internal/conversation"
	"medihelp/internal/datastream"
	"medihelp/internal/extraction"
	"medihelp/internal/media"
	"medihelp/internal/models"
	"medihelp/internal/report"
	"medihelp/internal/worker"
)

type mockWorkers struct {
	mu        sync.Mutex
	extracts  []worker.ExtractRequest
	chats     []worker.ChatRequest
	text      string
	extractEr error
	chunks    []string
	chatErr   error
}

func (m *mockWorkers) Extract(req worker.ExtractRequest) (string, error) {
	m.mu.Lock()
	m.extracts = append(m.extracts, req)
	m.mu.Unlock()
	return m.text, m.extractEr
}

func (m *mockWorkers) Chat(req worker.ChatRequest) error {
	m.mu.Lock()
	m.chats = append(m.chats, req)
	m.mu.Unlock()
	if errors.Is(m.chatErr, worker.ErrChatInFlight) || errors.Is(m.chatErr, worker.ErrDispatcherBusy) {
		return m.chatErr
	}
	for _, c := range m.chunks {
		if err := req.ChunkFn(c); err != nil {
			return err
		}
	}
	return m.chatErr
}

func newTestRouter(t *testing.T, workers WorkerManager, maxUpload int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(workers, maxUpload, nil).RegisterRoutes(router)
	return router
}

func doJSONRequest(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func pdfDataURL(body string) string {
	return media.EncodeDataURL(models.UploadedFile{MimeType: "application/pdf", Data: []byte(body)}).DataURL
}

func TestHealthz(t *testing.T) {
	rec := doJSONRequest(t, newTestRouter(t, &mockWorkers{}, 0), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestExtractReturnsRawText(t *testing.T) {
	workers := &mockWorkers{text: "##Summary\\n\\n**Cholesterol** is high."}
	router := newTestRouter(t, workers, 0)

	rec := doJSONRequest(t, router, http.MethodPost, "/api/listgeminireport",
		map[string]string{"base64": pdfDataURL("%PDF-1.4")},
		map[string]string{conversation.SessionHeader: "sess-1"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "##Summary\\n\\n**Cholesterol** is high.", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))

	require.Len(t, workers.extracts, 1)
	got := workers.extracts[0]
	assert.Equal(t, "application/pdf", got.MimeType)
	assert.Equal(t, []byte("%PDF-1.4"), got.Data)
	assert.Equal(t, "sess-1", got.SessionKey)
}

func TestExtractRejections(t *testing.T) {
	textURL := media.EncodeDataURL(models.UploadedFile{MimeType: "text/plain", Data: []byte("hi")}).DataURL
	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"invalid json", `{"base64":`, http.StatusBadRequest},
		{"missing base64", map[string]string{}, http.StatusBadRequest},
		{"not a data url", map[string]string{"base64": "hello"}, http.StatusBadRequest},
		{"unsupported type", map[string]string{"base64": textURL}, http.StatusUnsupportedMediaType},
		{"empty file", map[string]string{"base64": "data:application/pdf;base64,"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			workers := &mockWorkers{}
			rec := doJSONRequest(t, newTestRouter(t, workers, 0), http.MethodPost, "/api/listgeminireport", tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Empty(t, workers.extracts)
		})
	}
}

func TestExtractTooLarge(t *testing.T) {
	workers := &mockWorkers{}
	router := newTestRouter(t, workers, 16)
	rec := doJSONRequest(t, router, http.MethodPost, "/api/listgeminireport",
		map[string]string{"base64": pdfDataURL(strings.Repeat("x", 8<<10))}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, workers.extracts)
}

func TestExtractWorkerErrors(t *testing.T) {
	cases := map[error]int{
		worker.ErrDispatcherBusy: http.StatusTooManyRequests,
		errors.New("quota"):      http.StatusBadGateway,
	}
	for err, status := range cases {
		rec := doJSONRequest(t, newTestRouter(t, &mockWorkers{extractEr: err}, 0), http.MethodPost,
			"/api/listgeminireport", map[string]string{"base64": pdfDataURL("%PDF")}, nil)
		assert.Equal(t, status, rec.Code, err.Error())
	}
}

func chatBody() map[string]any {
	return map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Is this normal?"}},
		"data":     map[string]string{"reportData": "BP: 120/80"},
	}
}

func TestChatStreamsDataProtocol(t *testing.T) {
	workers := &mockWorkers{chunks: []string{"Yes, ", "that is normal."}}
	router := newTestRouter(t, workers, 0)

	rec := doJSONRequest(t, router, http.MethodPost, "/api/resumechat", chatBody(),
		map[string]string{conversation.SessionHeader: "sess-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, datastream.HeaderValue, rec.Header().Get(datastream.HeaderName))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], `f:{"messageId":"msg-`))
	assert.Equal(t, `0:"Yes, "`, lines[1])
	assert.Equal(t, `0:"that is normal."`, lines[2])
	assert.Equal(t, `e:{"finishReason":"stop","isContinued":false}`, lines[3])
	assert.Equal(t, `d:{"finishReason":"stop"}`, lines[4])

	require.Len(t, workers.chats, 1)
	got := workers.chats[0]
	assert.Equal(t, "sess-1", got.SessionKey)
	assert.Equal(t, "BP: 120/80", got.ReportData)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Is this normal?", got.Messages[0].Content)
}

func TestChatSessionKeyFallsBackToClientIP(t *testing.T) {
	workers := &mockWorkers{}
	router := newTestRouter(t, workers, 0)
	rec := doJSONRequest(t, router, http.MethodPost, "/api/resumechat", chatBody(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, workers.chats, 1)
	assert.Equal(t, "192.0.2.1", workers.chats[0].SessionKey)
}

func TestChatRejections(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   any
		status int
	}{
		{"in flight", worker.ErrChatInFlight, chatBody(), http.StatusConflict},
		{"busy", worker.ErrDispatcherBusy, chatBody(), http.StatusTooManyRequests},
		{"no messages", nil, map[string]any{"messages": []any{}}, http.StatusBadRequest},
		{"invalid json", nil, `{"messages":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSONRequest(t, newTestRouter(t, &mockWorkers{chatErr: tc.err}, 0), http.MethodPost, "/api/resumechat", tc.body, nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestChatProviderFailureBecomesErrorPart(t *testing.T) {
	workers := &mockWorkers{chunks: []string{"partial"}, chatErr: errors.New("model unavailable")}
	rec := doJSONRequest(t, newTestRouter(t, workers, 0), http.MethodPost, "/api/resumechat", chatBody(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `0:"partial"`)
	assert.Contains(t, body, "\n3:")
	assert.NotContains(t, body, "\nd:")

	err := datastream.Read(strings.NewReader(body), nil)
	assert.ErrorIs(t, err, datastream.ErrRemote)
}

// Drives the client pipeline against the real handlers over HTTP.
func TestClientPipelineAgainstHandlers(t *testing.T) {
	workers := &mockWorkers{
		text:   "##Summary\\n\\n**Cholesterol** is high.",
		chunks: []string{"Talk to ", "your doctor."},
	}
	srv := httptest.NewServer(newTestRouter(t, workers, 0))
	defer srv.Close()

	text, err := extraction.NewClient(srv.URL, srv.Client(), nil).Extract(context.Background(),
		models.EncodedPayload{DataURL: pdfDataURL("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, "Summary\n\nCholesterol is high.", text)

	holder := report.NewHolder()
	holder.Confirm("BP: 120/80")
	sess := conversation.NewSession("sess-e2e", conversation.NewHTTPTransport(srv.URL, "sess-e2e", srv.Client()), holder, nil)
	require.NoError(t, sess.Submit(context.Background(), "Is this normal?"))

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Talk to your doctor.", msgs[1].Content)
	assert.True(t, msgs[1].Complete)

	require.Len(t, workers.chats, 1)
	assert.Equal(t, "sess-e2e", workers.chats[0].SessionKey)
	assert.Equal(t, "BP: 120/80", workers.chats[0].ReportData)
}
