//go:build plugindyn && linux

package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
)

// DefaultPluginDir is searched when neither a directory nor
// VOICETURN_PLUGIN_PATH is given.
const DefaultPluginDir = "/usr/local/lib/voiceturn/plugins"

// openShared loads one backend library; tests swap it out.
var openShared = registerShared

// LoadDynamicPlugins loads every .so file in dir and runs its exported
// RegisterPlugins function, which registers VAD backends into the global
// registry. A file that fails to load does not stop the others; the
// returned count covers the files that loaded and the error joins the
// failures. A missing directory loads nothing and is not an error.
func LoadDynamicPlugins(dir string) (int, error) {
	dir = pluginDir(dir)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return 0, fmt.Errorf("failed to search for VAD backends in %s: %w", dir, err)
	}

	loaded := 0
	var errs []error
	for _, file := range files {
		if err := openShared(file); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(file), err))
			continue
		}
		loaded++
		slog.Debug("Loaded VAD backend library", slog.String("file", file))
	}

	if loaded > 0 {
		slog.Info("Loaded dynamic VAD backends",
			slog.Int("count", loaded),
			slog.String("directory", dir))
	}
	return loaded, errors.Join(errs...)
}

func pluginDir(dir string) string {
	if dir != "" {
		return dir
	}
	if env := os.Getenv("VOICETURN_PLUGIN_PATH"); env != "" {
		return env
	}
	return DefaultPluginDir
}

func registerShared(file string) error {
	p, err := plugin.Open(file)
	if err != nil {
		return err
	}
	sym, err := p.Lookup("RegisterPlugins")
	if err != nil {
		return err
	}
	register, ok := sym.(func() error)
	if !ok {
		return fmt.Errorf("RegisterPlugins has type %T, want func() error", sym)
	}
	return register()
}
