package silero

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"
)

func modelServer(t *testing.T, body []byte, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloaderFetchesAndVerifies(t *testing.T) {
	is := is.New(t)

	body := []byte("onnx-model-bytes")
	sum := sha256.Sum256(body)
	var hits atomic.Int32
	srv := modelServer(t, body, &hits)

	path := filepath.Join(t.TempDir(), "models", ModelFileName)
	d := NewDownloader(srv.URL, path, hex.EncodeToString(sum[:]))

	is.NoErr(d.Download())
	got, err := os.ReadFile(path)
	is.NoErr(err)
	is.Equal(got, body)

	is.NoErr(d.Download()) // valid copy is reused
	is.Equal(hits.Load(), int32(1))
}

func TestDownloaderRejectsHashMismatch(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	srv := modelServer(t, []byte("tampered"), &hits)

	path := filepath.Join(t.TempDir(), ModelFileName)
	d := NewDownloader(srv.URL, path, "00")

	is.True(d.Download() != nil)
	_, err := os.Stat(path)
	is.True(os.IsNotExist(err)) // nothing left behind
}

func TestDownloaderHTTPError(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewDownloader(srv.URL, filepath.Join(t.TempDir(), ModelFileName), "")
	is.True(d.Download() != nil)
}

func TestWindowGeometry(t *testing.T) {
	is := is.New(t)

	is.Equal(windowSize(16000), 512)
	is.Equal(windowSize(8000), 256)
	is.Equal(contextSize(16000), 64)
	is.Equal(contextSize(8000), 32)
}
