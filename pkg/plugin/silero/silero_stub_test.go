//go:build !silero

package silero

import (
	"testing"

	"github.com/chriscow/voiceturn/pkg/ai/vad"
	"github.com/chriscow/voiceturn/pkg/plugin"
)

func TestStubRegistersUnavailableBackend(t *testing.T) {
	p, ok := plugin.Lookup(vad.PluginKind, string(vad.BackendSilero))
	if !ok {
		t.Fatal("silero backend not registered")
	}
	if p.Available {
		t.Error("stub build should report silero as unavailable")
	}
	if p.Downloader == nil {
		t.Error("model downloader should be registered even without inference")
	}
	if _, err := p.Factory(nil); err == nil {
		t.Error("stub factory should fail so loading falls back")
	}
}
