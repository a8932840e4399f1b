package silero

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Downloader fetches the Silero model file. When a SHA-256 is configured,
// existing and downloaded files are verified against it.
type Downloader struct {
	url       string
	modelPath string
	sha256    string
	client    *http.Client
}

// NewDownloader creates a downloader writing url to modelPath. expectedSHA256
// may be empty, in which case only presence is checked.
func NewDownloader(url, modelPath, expectedSHA256 string) *Downloader {
	return &Downloader{
		url:       url,
		modelPath: modelPath,
		sha256:    expectedSHA256,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Path returns the model file location.
func (d *Downloader) Path() string {
	return d.modelPath
}

// Download fetches the model unless a valid copy is already present. The
// file is written next to its destination and renamed into place, so a
// failed download never leaves a truncated model behind.
func (d *Downloader) Download() error {
	if d.isValidFile(d.modelPath) {
		slog.Info("Silero VAD model already exists", slog.String("model_path", d.modelPath))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.modelPath), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	slog.Info("Downloading Silero VAD model",
		slog.String("url", d.url),
		slog.String("model_path", d.modelPath))

	tmp, err := os.CreateTemp(filepath.Dir(d.modelPath), ModelFileName+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := d.fetch(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	if d.sha256 != "" && !d.verifyFileHash(tmp.Name()) {
		return fmt.Errorf("downloaded model does not match SHA-256 %s", d.sha256)
	}
	if err := os.Rename(tmp.Name(), d.modelPath); err != nil {
		return fmt.Errorf("failed to move model into place: %w", err)
	}

	slog.Info("Silero VAD model downloaded successfully", slog.String("model_path", d.modelPath))
	return nil
}

func (d *Downloader) fetch(w io.Writer) error {
	resp, err := d.client.Get(d.url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (d *Downloader) isValidFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if d.sha256 == "" {
		return true
	}
	return d.verifyFileHash(path)
}

func (d *Downloader) verifyFileHash(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false
	}
	return hex.EncodeToString(hasher.Sum(nil)) == d.sha256
}
