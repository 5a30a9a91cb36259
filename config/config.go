// Package config implements the repository configuration layer
// (specification §6): a typed, section-structured view of
// `<gitdir>/config`, merged across system/global/local scopes.
package config

import (
	"os"

	"dario.cat/mergo"
	"github.com/go-git/gcfg"
)

// Core covers core.* keys relevant to this module's scope.
type Core struct {
	RepositoryFormatVersion int
	Bare                    bool
	Worktree                string
}

// Extensions covers extensions.* keys.
type Extensions struct {
	// ObjectFormat selects the hash function: "sha1" (default when
	// absent) or "sha256". See specification §3.
	ObjectFormat string
}

// Remote is one `remote.<name>` subsection.
type Remote struct {
	URL   string
	Fetch []string
}

// Branch is one `branch.<name>` subsection.
type Branch struct {
	Remote string
	Merge  string
}

// Merge covers merge.* keys.
type Merge struct {
	Renames string
	Tool    string
}

// Init covers init.* keys.
type Init struct {
	DefaultBranch string
}

// GC covers gc.* keys.
type GC struct {
	// Auto is the loose-object count threshold past which `git gc --auto`
	// would trigger; this module doesn't implement GC (spec.md Non-goal)
	// but still parses the knob so round-tripping a config file is lossless.
	Auto int
}

// Config is the typed view of one `<gitdir>/config` file (or a merged
// composite of several, see Merge).
type Config struct {
	Core       Core
	Extensions Extensions
	Remote     map[string]*Remote
	Branch     map[string]*Branch
	Merge      Merge
	Init       Init
	GC         GC
}

// New returns a Config with the defaults specification §6 requires
// when a key or whole file is absent: SHA-1 object format, repository
// format version 0.
func New() *Config {
	return &Config{
		Extensions: Extensions{ObjectFormat: "sha1"},
		Remote:     map[string]*Remote{},
		Branch:     map[string]*Branch{},
	}
}

// ObjectFormat returns the effective object format, defaulting to
// "sha1" when extensions.objectformat is unset.
func (c *Config) ObjectFormat() string {
	if c.Extensions.ObjectFormat == "" {
		return "sha1"
	}
	return c.Extensions.ObjectFormat
}

// Load parses path (typically "<gitdir>/config") into a fresh Config.
// A missing file is not an error: New()'s defaults are returned as-is,
// matching specification §6's "if missing... default SHA-1".
func Load(path string) (*Config, error) {
	cfg := New()
	if err := gcfg.ReadFileInto(cfg, path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Parse parses raw INI bytes (as read from a backend.Interface-rooted
// "config" file) into a fresh Config, applying the same missing-key
// defaults as New.
func Parse(data []byte) (*Config, error) {
	cfg := New()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := gcfg.ReadStringInto(cfg, string(data)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge layers override (e.g. local) on top of base (e.g. global or
// system), per specification §6's scope precedence: local overrides
// global overrides system. It merges override into a shallow copy of
// *base and returns that copy (map and pointer fields stay shared with
// base), so layers chain as Merge(system, Merge(global, local)).
func Merge(base, override *Config) (*Config, error) {
	result := *base
	if err := mergo.Merge(&result, override, mergo.WithOverride); err != nil {
		return nil, err
	}
	return &result, nil
}
