package datastream

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Start("msg-1"))
	require.NoError(t, w.Text("Hello"))
	require.NoError(t, w.Text(""))
	require.NoError(t, w.Text(" \"world\"\n"))
	require.NoError(t, w.Finish(""))

	want := `f:{"messageId":"msg-1"}
0:"Hello"
0:" \"world\"\n"
e:{"finishReason":"stop","isContinued":false}
d:{"finishReason":"stop"}
`
	assert.Equal(t, want, buf.String())
}

func TestReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.Start("id")
	_ = w.Text("a")
	_ = w.Text("b\nc")
	_ = w.Finish("stop")

	var got []string
	err := Read(&buf, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b\nc"}, got)
}

func TestReadErrorPart(t *testing.T) {
	err := Read(strings.NewReader("0:\"partial\"\n3:\"model unavailable\"\n"), nil)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestReadIncomplete(t *testing.T) {
	err := Read(strings.NewReader("0:\"partial\"\n"), nil)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestReadMalformed(t *testing.T) {
	err := Read(strings.NewReader("garbage\n"), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIncomplete))
}

func TestWriterFlushesAndSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	w := NewWriter(rec)
	require.NoError(t, w.Text("x"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, HeaderValue, rec.Header().Get(HeaderName))
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
}
