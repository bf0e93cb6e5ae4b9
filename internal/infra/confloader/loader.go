package confloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "KEYVAULT_"

// ErrReadBytesNotSupported is returned when ReadBytes is called on the
// map provider; koanf falls back to Read.
var ErrReadBytesNotSupported = errors.New("confloader: map provider has no byte form, use Read")

// Loader merges configuration from a YAML file, the environment, and
// explicit maps. Later sources override earlier ones.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML configuration file path. Missing files
// are a load error; pass no file to run on env and defaults alone.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// New creates a loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load merges all configured sources and unmarshals into target.
// Order: file, then environment.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return err
		}
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	return l.Unmarshal(target)
}

// LoadFile merges a YAML file into the configuration tree.
func (l *Loader) LoadFile(path string) error {
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges prefixed environment variables. Variables map onto
// dotted keys: KEYVAULT_CACHE_TTL becomes cache.ttl.
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap merges an explicit key map, highest priority. Used by tests
// and flag plumbing.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal decodes the merged tree into target via koanf tags.
func (l *Loader) Unmarshal(target any) error {
	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// Get returns the raw value at a dotted key.
func (l *Loader) Get(key string) any { return l.k.Get(key) }

// String returns the string value at a dotted key.
func (l *Loader) String(key string) string { return l.k.String(key) }

// Bool returns the bool value at a dotted key.
func (l *Loader) Bool(key string) bool { return l.k.Bool(key) }

// All returns the merged tree flattened to dotted keys.
func (l *Loader) All() map[string]any { return l.k.All() }

// mapProvider adapts a plain map to the koanf provider interface.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, ErrReadBytesNotSupported }

func (m mapProvider) Read() (map[string]any, error) { return m, nil }
