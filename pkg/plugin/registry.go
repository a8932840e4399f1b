// Package plugin is the registry through which VAD backends make themselves
// available. Backend packages register from init(); the VAD factory looks
// them up by kind and name at load time.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a backend instance from configuration. Callers type-assert
// the result to the contract of the kind they asked for (vad.Classifier for
// kind "vad").
type Factory func(cfg map[string]any) (any, error)

// Downloader is implemented by backends that need model files on disk.
type Downloader interface {
	Download() error
}

// Plugin is a registered backend with its metadata.
type Plugin struct {
	Kind        string         // "vad"
	Name        string         // e.g. "silero", "webrtc"
	Factory     Factory        // creates instances
	Description string         // human-readable description
	Version     string         // backend version
	Config      map[string]any // accepted configuration keys with defaults
	Downloader  Downloader     // optional model downloader
	Available   bool           // false for stubs compiled without their build tag
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name] -> Plugin
}

// NewRegistry returns an empty registry, mostly for tests.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Default returns the process-wide registry backends register into.
func Default() *Registry {
	return globalRegistry
}

// Register adds an available plugin to the global registry.
// Panics if a plugin with the same kind and name is already registered.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with metadata to the global registry.
// Panics if a plugin with the same kind and name is already registered.
func RegisterWithMetadata(plugin *Plugin) {
	globalRegistry.RegisterWithMetadata(plugin)
}

// Get retrieves a factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// Lookup retrieves a plugin with its metadata from the global registry.
func Lookup(kind, name string) (*Plugin, bool) {
	return globalRegistry.Lookup(kind, name)
}

// List returns all registered plugins of a kind, or all plugins if kind is empty.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// Register adds an available plugin to this registry.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{
		Kind:      kind,
		Name:      name,
		Factory:   factory,
		Available: true,
	})
}

// RegisterWithMetadata adds a plugin with metadata to this registry.
// Panics on empty kind, name or factory and on duplicate registration.
func (r *Registry) RegisterWithMetadata(plugin *Plugin) {
	if plugin.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if plugin.Name == "" {
		panic("plugin name cannot be empty")
	}
	if plugin.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[plugin.Kind] == nil {
		r.plugins[plugin.Kind] = make(map[string]*Plugin)
	}
	if existing, exists := r.plugins[plugin.Kind][plugin.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			plugin.Kind, plugin.Name, existing.Version, plugin.Version))
	}
	r.plugins[plugin.Kind][plugin.Name] = plugin
}

// Get retrieves a factory from this registry.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	p, ok := r.Lookup(kind, name)
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// Lookup retrieves a plugin with its metadata.
func (r *Registry) Lookup(kind, name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	return p, ok
}

// List returns plugins of a kind, or all plugins if kind is empty, sorted by
// kind then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range kindMap {
			plugins = append(plugins, p)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// Clear removes all plugins from this registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}

// Int reads an integer factory option, accepting the numeric types YAML and
// JSON decoders produce.
func Int(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Float reads a float factory option.
func Float(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}

// String reads a string factory option; empty strings yield def.
func String(cfg map[string]any, key string, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}
