package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/storefront-labs/pricelab/internal/api"
)

// Flags understood by the engine
const (
	// FlagManualApplyOnly records experiments without touching live prices
	FlagManualApplyOnly = "manual_apply_only"

	// FlagSuspended rejects every API request for the store
	FlagSuspended = "suspended"
)

var knownFlags = map[string]bool{
	FlagManualApplyOnly: true,
	FlagSuspended:       true,
}

// Policy bounds the guardrails a caller may request for one store
type Policy struct {
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	MinDeltaPercent float64 `yaml:"min_delta_percent" json:"min_delta_percent"`
	MaxDeltaPercent float64 `yaml:"max_delta_percent" json:"max_delta_percent"`
	MaxVariants     int     `yaml:"max_variants" json:"max_variants"`

	Flags map[string]bool `yaml:"flags,omitempty" json:"flags,omitempty"`

	// Request limits for the store; not part of the hash
	Limits *Limits `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// Limits overrides the default per-store request budget
type Limits struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
	DailyQuota        int64   `yaml:"daily_quota,omitempty" json:"daily_quota,omitempty"`
}

// ValidationError represents a policy validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy validation error [%s]: %s", e.Field, e.Message)
}

func (p *Policy) Validate() error {
	if p.Version == "" {
		return &ValidationError{Field: "version", Message: "version is required"}
	}

	if !finite(p.MinDeltaPercent) || !finite(p.MaxDeltaPercent) {
		return &ValidationError{Field: "delta_percent", Message: "bounds must be finite numbers"}
	}

	if p.MinDeltaPercent < api.MinDeltaFloor || p.MinDeltaPercent > 0 {
		return &ValidationError{
			Field:   "min_delta_percent",
			Message: fmt.Sprintf("must be in [%v, 0]", api.MinDeltaFloor),
		}
	}
	if p.MaxDeltaPercent < 0 || p.MaxDeltaPercent > api.MaxDeltaCeiling {
		return &ValidationError{
			Field:   "max_delta_percent",
			Message: fmt.Sprintf("must be in [0, %v]", api.MaxDeltaCeiling),
		}
	}
	if p.MaxVariants < 1 || p.MaxVariants > api.MaxVariantsCap {
		return &ValidationError{
			Field:   "max_variants",
			Message: fmt.Sprintf("must be in [1, %d]", api.MaxVariantsCap),
		}
	}

	for name := range p.Flags {
		if !knownFlags[name] {
			return &ValidationError{Field: "flags." + name, Message: "unknown flag"}
		}
	}

	if p.Limits != nil {
		if !finite(p.Limits.RequestsPerSecond) || p.Limits.RequestsPerSecond <= 0 || p.Limits.Burst < 1 {
			return &ValidationError{Field: "limits", Message: "requests_per_second and burst must be positive"}
		}
		if p.Limits.DailyQuota < 0 {
			return &ValidationError{Field: "limits.daily_quota", Message: "must be non-negative"}
		}
	}

	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Hash is a stable digest of the bounding fields, recorded with each
// experiment for lineage
func (p *Policy) Hash() (string, error) {
	canonical := map[string]interface{}{
		"version":           p.Version,
		"min_delta_percent": p.MinDeltaPercent,
		"max_delta_percent": p.MaxDeltaPercent,
		"max_variants":      p.MaxVariants,
		"flags":             p.Flags,
	}

	// encoding/json sorts map keys, so this is deterministic
	jsonBytes, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy for hashing: %w", err)
	}

	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:]), nil
}

// Enabled reports whether flag is set
func (p *Policy) Enabled(flag string) bool {
	return p.Flags[flag]
}

// Bound clamps g into the policy and describes every adjustment made
func (p *Policy) Bound(g api.Guardrails) (api.Guardrails, []string) {
	var warnings []string
	out := g

	if out.MinDeltaPercent < p.MinDeltaPercent {
		warnings = append(warnings, fmt.Sprintf("min_delta_percent %.2f clamped to store policy %.2f",
			out.MinDeltaPercent, p.MinDeltaPercent))
		out.MinDeltaPercent = p.MinDeltaPercent
	}
	if out.MaxDeltaPercent > p.MaxDeltaPercent {
		warnings = append(warnings, fmt.Sprintf("max_delta_percent %.2f clamped to store policy %.2f",
			out.MaxDeltaPercent, p.MaxDeltaPercent))
		out.MaxDeltaPercent = p.MaxDeltaPercent
	}
	if out.MaxVariants > p.MaxVariants {
		warnings = append(warnings, fmt.Sprintf("max_variants %d clamped to store policy %d",
			out.MaxVariants, p.MaxVariants))
		out.MaxVariants = p.MaxVariants
	}

	return out, warnings
}

// DefaultPolicy allows the full guardrail range
func DefaultPolicy() *Policy {
	return &Policy{
		Version:         "default",
		Description:     "full guardrail range",
		MinDeltaPercent: api.MinDeltaFloor,
		MaxDeltaPercent: api.MaxDeltaCeiling,
		MaxVariants:     api.MaxVariantsCap,
		Flags:           make(map[string]bool),
	}
}

// File is the on-disk layout of a policy file
type File struct {
	Default *Policy            `yaml:"default"`
	Stores  map[string]*Policy `yaml:"stores"`
}

// Registry maps stores to their policy, falling back to a default
type Registry struct {
	mu       sync.RWMutex
	fallback *Policy
	stores   map[string]*Policy
}

// NewRegistry creates a registry with the given fallback (DefaultPolicy if nil)
func NewRegistry(fallback *Policy) (*Registry, error) {
	if fallback == nil {
		fallback = DefaultPolicy()
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default policy validation failed: %w", err)
	}

	return &Registry{
		fallback: fallback,
		stores:   make(map[string]*Policy),
	}, nil
}

// Register sets the policy for a store after validation
func (r *Registry) Register(storeID string, p *Policy) error {
	if storeID == "" {
		return &ValidationError{Field: "store", Message: "store id is required"}
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("policy for store %s: %w", storeID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stores[storeID] = p
	return nil
}

// For returns the store's policy or the fallback
func (r *Registry) For(storeID string) *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.stores[storeID]; ok {
		return p
	}
	return r.fallback
}

// Stores returns the ids with an explicit policy, sorted
func (r *Registry) Stores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Parse builds a registry from YAML
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	reg, err := NewRegistry(f.Default)
	if err != nil {
		return nil, err
	}

	for id, p := range f.Stores {
		if p == nil {
			return nil, &ValidationError{Field: "stores." + id, Message: "empty policy"}
		}
		if err := reg.Register(id, p); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// Load reads a policy file; an empty path yields a registry with only the
// default policy
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}
