//go:build !silero

package silero

import (
	"fmt"
)

func newClassifier(cfg map[string]any) (any, error) {
	return nil, fmt.Errorf("silero VAD backend not available (build with -tags=silero)")
}

func init() {
	register(newClassifier, false, "Silero VAD (disabled - build with -tags=silero to enable)")
}
