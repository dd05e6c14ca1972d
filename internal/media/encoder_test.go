package media

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medihelp/internal/models"
)

func TestEncodeDecodeDataURL(t *testing.T) {
	file := models.UploadedFile{MimeType: "application/pdf", Data: []byte("%PDF-1.4 body")}
	payload := EncodeDataURL(file)
	assert.Equal(t, "data:application/pdf;base64,JVBERi0xLjQgYm9keQ==", payload.DataURL)
	assert.Equal(t, "application/pdf", payload.MimeType())

	mime, data, err := DecodeDataURL(payload.DataURL)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, file.Data, data)
}

func TestDecodeDataURLRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "hello", "data:text/plain,hello", "data:image/png;base64", "data:image/png;base64,@@@"} {
		_, _, err := DecodeDataURL(in)
		assert.ErrorIs(t, err, ErrMalformedDataURL, in)
	}
}

func TestEncoderDeliversLatest(t *testing.T) {
	var (
		mu  sync.Mutex
		got []models.EncodedPayload
	)
	enc := NewEncoder(func(_ uint64, p models.EncodedPayload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}, nil)

	seq := enc.Submit(models.UploadedFile{MimeType: "audio/ogg", Data: []byte("a")})
	enc.Wait()
	assert.Equal(t, uint64(1), seq)
	require.Len(t, got, 1)
	assert.Equal(t, "audio/ogg", got[0].MimeType())
}

func TestEncoderDropsStaleResult(t *testing.T) {
	release := map[string]chan struct{}{
		"old": make(chan struct{}),
		"new": make(chan struct{}),
	}
	var (
		mu  sync.Mutex
		got []string
	)
	enc := NewEncoder(func(_ uint64, p models.EncodedPayload) {
		mu.Lock()
		got = append(got, p.DataURL)
		mu.Unlock()
	}, nil)
	enc.encode = func(f models.UploadedFile) models.EncodedPayload {
		<-release[f.Name]
		return models.EncodedPayload{DataURL: f.Name}
	}

	enc.Submit(models.UploadedFile{Name: "old"})
	enc.Submit(models.UploadedFile{Name: "new"})
	assert.Equal(t, uint64(2), enc.Latest())

	// newer selection finishes first, then the stale one arrives late
	close(release["new"])
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	close(release["old"])
	enc.Wait()

	assert.Equal(t, []string{"new"}, got)
}
