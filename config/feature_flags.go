package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags holds the engine's runtime toggles. Each flag can be
// overridden with FEATURE_<NAME>=true|false, for example
// FEATURE_ENGINE_CATEGORY_BONUS=false.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// FeatureFreezeGrants runs the weekly streak freeze grant job.
	FeatureFreezeGrants = "engine.freeze_grants"

	// FeatureRemoteReconcile consumes device snapshots from the stream.
	FeatureRemoteReconcile = "engine.remote_reconcile"

	// FeatureCategoryBonus applies the x1.25 category completion multiplier.
	FeatureCategoryBonus = "engine.category_bonus"

	// FeatureEventFanout mirrors domain events to other workers over Redis.
	FeatureEventFanout = "events.redis_fanout"

	// FeatureSnapshotAPI accepts snapshots over HTTP.
	FeatureSnapshotAPI = "api.snapshot_ingest"
)

// LoadFeatureFlags builds the flags from defaults and FEATURE_* overrides.
// A nil vars map reads the process environment.
func LoadFeatureFlags(vars map[string]string) *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()

	lookup := func(key string) string {
		if vars == nil {
			return os.Getenv(key)
		}
		return vars[key]
	}
	for name, feature := range ff.features {
		if val := lookup(featureNameToEnvKey(name)); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []Feature{
		{FeatureFreezeGrants, "Grant one streak freeze per week to active learners", true},
		{FeatureRemoteReconcile, "Merge device snapshots from the snapshot stream", true},
		{FeatureCategoryBonus, "Award the category completion XP bonus", true},
		{FeatureEventFanout, "Mirror domain events across workers via Redis pub/sub", false},
		{FeatureSnapshotAPI, "Accept device snapshots on the HTTP API", true},
	} {
		ff.features[f.Name] = &f
	}
}

// featureNameToEnvKey converts a feature name to its environment key.
// "engine.category_bonus" -> "FEATURE_ENGINE_CATEGORY_BONUS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// SetEnabled toggles a feature.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// All returns a copy of every feature, sorted by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Convenience methods for common checks ---

// FreezeGrantsEnabled reports whether the weekly grant job should run.
func (ff *FeatureFlags) FreezeGrantsEnabled() bool {
	return ff.IsEnabled(FeatureFreezeGrants)
}

// RemoteReconcileEnabled reports whether device snapshots are merged.
func (ff *FeatureFlags) RemoteReconcileEnabled() bool {
	return ff.IsEnabled(FeatureRemoteReconcile)
}

// CategoryBonusEnabled reports whether the category multiplier applies.
func (ff *FeatureFlags) CategoryBonusEnabled() bool {
	return ff.IsEnabled(FeatureCategoryBonus)
}

// EventFanoutEnabled reports whether events are mirrored over Redis.
func (ff *FeatureFlags) EventFanoutEnabled() bool {
	return ff.IsEnabled(FeatureEventFanout)
}

// SnapshotAPIEnabled reports whether the snapshot route is served.
func (ff *FeatureFlags) SnapshotAPIEnabled() bool {
	return ff.IsEnabled(FeatureSnapshotAPI)
}

// --- Errors ---

var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
