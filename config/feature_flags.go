package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages progression toggles with per-academy rollout.
// Academies are bucketed by a hash of their ID so a partial rollout stays stable.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// academyID -> feature -> enabled
	academyOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// 0-100, assigned by hash of the academy ID.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// Route every promotion through the approval workflow; direct apply is still allowed for grantors.
	FeatureApprovalRequired = "progression.approval_required"
	// Grant degrees automatically when recorded attendance makes a practitioner eligible.
	FeatureAutoDegree = "progression.auto_degree"
	// Let the eligibility sweep open PENDING requests for newly eligible practitioners.
	FeatureSweepAutoRequest = "progression.sweep_auto_request"
	// Grant degrees of time-based belts by months instead of classes.
	FeatureTimeBasedDegrees = "progression.time_based_degrees"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns flags with their default values.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		academyOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureApprovalRequired] = &Feature{
		Name:        FeatureApprovalRequired,
		Description: "Promotions wait for staff approval",
	}
	ff.features[FeatureAutoDegree] = &Feature{
		Name:           FeatureAutoDegree,
		Description:    "Automatic degree grant on attendance",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureSweepAutoRequest] = &Feature{
		Name:        FeatureSweepAutoRequest,
		Description: "Eligibility sweep opens pending requests",
	}
	ff.features[FeatureTimeBasedDegrees] = &Feature{
		Name:           FeatureTimeBasedDegrees,
		Description:    "Degrees of time-based belts count months, not classes",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment reads FEATURE_<NAME>=true|false|<percent>.
// Example: FEATURE_PROGRESSION_AUTO_DEGREE=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// "progression.auto_degree" -> "FEATURE_PROGRESSION_AUTO_DEGREE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given academy.
// An empty academy ID only matches fully rolled-out features.
func (ff *FeatureFlags) IsEnabled(featureName, academyID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.academyOverrides[academyID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if academyID == "" {
		return false
	}
	return inRollout(academyID, featureName, feature.RolloutPercent)
}

func inRollout(academyID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(academyID))
	return int(h.Sum32()%100) < percent
}

// SetAcademyOverride forces a feature on or off for one academy.
func (ff *FeatureFlags) SetAcademyOverride(academyID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.academyOverrides[academyID]; !ok {
		ff.academyOverrides[academyID] = make(map[string]bool)
	}
	ff.academyOverrides[academyID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
