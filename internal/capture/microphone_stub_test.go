//go:build !portaudio

package capture

import (
	"context"
	"errors"
	"testing"
)

func TestOpenMicrophoneUnavailable(t *testing.T) {
	if _, err := OpenMicrophone(context.Background(), Options{}, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
