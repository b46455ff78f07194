// Package dbconfig loads nodestore's optional configuration file: an
// hujson-formatted (commented JSON) document setting durability mode, mmap
// window sizing, and B+-tree fanout (spec SPEC_FULL.md §A.3).
//
// Grounded on the teacher's root config.go ("defaults merged with
// user-supplied JSON-with-comments", hujson.Standardize then
// json.Unmarshal) and internal/ticket/config.go's simpler single-file
// variant.
package dbconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/nodestore/internal/filemap"
)

// Durability selects how aggressively GroupCommitter persists a commit
// (spec §6).
type Durability string

const (
	// DurabilityFull flushes and syncs every window before and after the
	// flag flip: a successful commit is crash-durable.
	DurabilityFull Durability = "full"

	// DurabilityMemOnly flushes but does not sync: visible to other
	// processes immediately, not crash-durable.
	DurabilityMemOnly Durability = "mem_only"

	// DurabilityUnsafe neither flushes nor syncs: visible, not durable.
	// Intended for throwaway/test databases only.
	DurabilityUnsafe Durability = "unsafe"
)

// ErrInvalidDurability is returned when a config file names an unknown
// durability mode.
var ErrInvalidDurability = errors.New("dbconfig: invalid durability mode")

// Config holds every tunable nodestore reads from its config file.
type Config struct {
	// Durability selects the commit flush/sync policy (spec §6).
	Durability Durability `json:"durability,omitempty"`

	// WindowAlignment is the mmap window granularity in bytes (spec §4.4,
	// default 1 MiB).
	WindowAlignment int64 `json:"window_alignment,omitempty"` //nolint:tagliatelle

	// MaxOpenWindows bounds the LRU set of simultaneously mapped windows
	// (spec §4.4, default 16).
	MaxOpenWindows int `json:"max_open_windows,omitempty"` //nolint:tagliatelle

	// CompactionRatio is the free/used compaction ratio (spec §4.5 step 6,
	// default 2.0). It is loaded and validated only: the GroupWriter's
	// compaction trigger is fixed at free > 2*used and does not read it.
	CompactionRatio float64 `json:"compaction_ratio,omitempty"` //nolint:tagliatelle

	// MaxListSize is the B+-tree inner-node fanout and leaf element cap
	// (spec §4.2, default 1000). It is loaded and validated only: pkg/group
	// opens every column with bptree.DefaultMaxListSize and does not read it.
	MaxListSize int `json:"max_list_size,omitempty"` //nolint:tagliatelle
}

// Default returns nodestore's built-in defaults, used when no config file
// is present and as the base every loaded file is merged onto.
func Default() Config {
	return Config{
		Durability:      DurabilityFull,
		WindowAlignment: filemap.DefaultAlignment,
		MaxOpenWindows:  filemap.DefaultMaxOpenWindows,
		CompactionRatio: 2.0,
		MaxListSize:     1000,
	}
}

// Load reads an hujson config file at path, merging it onto [Default]. A
// missing file is not an error: Load returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, same as the teacher's config loader
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("dbconfig: reading %s: %w", path, err)
	}

	overlay, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("dbconfig: parsing %s: %w", path, err)
	}

	merged := merge(cfg, overlay)

	if err := validate(merged); err != nil {
		return Config{}, fmt.Errorf("dbconfig: %s: %w", path, err)
	}

	return merged, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid hujson: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Durability != "" {
		base.Durability = overlay.Durability
	}

	if overlay.WindowAlignment != 0 {
		base.WindowAlignment = overlay.WindowAlignment
	}

	if overlay.MaxOpenWindows != 0 {
		base.MaxOpenWindows = overlay.MaxOpenWindows
	}

	if overlay.CompactionRatio != 0 {
		base.CompactionRatio = overlay.CompactionRatio
	}

	if overlay.MaxListSize != 0 {
		base.MaxListSize = overlay.MaxListSize
	}

	return base
}

func validate(cfg Config) error {
	switch cfg.Durability {
	case DurabilityFull, DurabilityMemOnly, DurabilityUnsafe:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDurability, cfg.Durability)
	}

	if cfg.WindowAlignment <= 0 || cfg.WindowAlignment&(cfg.WindowAlignment-1) != 0 {
		return fmt.Errorf("dbconfig: window_alignment must be a positive power of two, got %d", cfg.WindowAlignment)
	}

	if cfg.MaxOpenWindows <= 0 {
		return fmt.Errorf("dbconfig: max_open_windows must be positive, got %d", cfg.MaxOpenWindows)
	}

	if cfg.CompactionRatio <= 0 {
		return fmt.Errorf("dbconfig: compaction_ratio must be positive, got %g", cfg.CompactionRatio)
	}

	if cfg.MaxListSize <= 1 {
		return fmt.Errorf("dbconfig: max_list_size must be > 1, got %d", cfg.MaxListSize)
	}

	return nil
}

// Format returns cfg as pretty-printed JSON, mirroring the teacher's
// FormatConfig (used by a `print-config`-style diagnostic command).
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("dbconfig: formatting: %w", err)
	}

	return string(data), nil
}
