//go:build !plugindyn || !linux

package plugin

import (
	"errors"
	"testing"
)

func TestLoadDynamicPluginsUnsupported(t *testing.T) {
	n, err := LoadDynamicPlugins(t.TempDir())
	if !errors.Is(err, ErrDynamicUnsupported) {
		t.Fatalf("expected ErrDynamicUnsupported, got %v", err)
	}
	if n != 0 {
		t.Errorf("loaded %d plugins, want 0", n)
	}
}
