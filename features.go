package tenantauth

import (
	"sort"
	"strings"
)

// FeatureKey is a capability token gating one application area
type FeatureKey string

const (
	FeaturePR          FeatureKey = "pr"
	FeatureInvestors   FeatureKey = "investors"
	FeatureData        FeatureKey = "data"
	FeatureCRM         FeatureKey = "crm"
	FeatureSocialMedia FeatureKey = "social-media"
	FeatureFinance     FeatureKey = "finance"
	FeatureAnalytics   FeatureKey = "analytics"
	FeatureHR          FeatureKey = "hr"
	FeatureTools       FeatureKey = "tools"
	FeatureCalendar    FeatureKey = "calendar"
	FeatureManagement  FeatureKey = "management"
	FeatureCommunity   FeatureKey = "community"
	FeatureSettings    FeatureKey = "settings"
	FeatureInbox       FeatureKey = "inbox"
	FeatureGPT         FeatureKey = "gpt"
	FeatureChats       FeatureKey = "chats"
	FeatureAdvisor     FeatureKey = "advisor"
	FeatureDashboard   FeatureKey = "dashboard"
)

var featureCatalog = map[FeatureKey]struct{}{
	FeaturePR:          {},
	FeatureInvestors:   {},
	FeatureData:        {},
	FeatureCRM:         {},
	FeatureSocialMedia: {},
	FeatureFinance:     {},
	FeatureAnalytics:   {},
	FeatureHR:          {},
	FeatureTools:       {},
	FeatureCalendar:    {},
	FeatureManagement:  {},
	FeatureCommunity:   {},
	FeatureSettings:    {},
	FeatureInbox:       {},
	FeatureGPT:         {},
	FeatureChats:       {},
	FeatureAdvisor:     {},
	FeatureDashboard:   {},
}

// AllFeatures returns the catalog sorted by key
func AllFeatures() []FeatureKey {
	out := make([]FeatureKey, 0, len(featureCatalog))
	for k := range featureCatalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsValid reports whether the key is part of the catalog
func (k FeatureKey) IsValid() bool {
	_, ok := featureCatalog[k]
	return ok
}

func (k FeatureKey) String() string {
	return string(k)
}

// ParseFeatureKey converts a raw string into a catalog key. Keys are matched
// exactly, only surrounding whitespace is ignored.
func ParseFeatureKey(raw string) (FeatureKey, error) {
	key := FeatureKey(strings.TrimSpace(raw))
	if !key.IsValid() {
		return "", ErrUnknownFeature.Clone().WithMetadata(map[string]any{"feature": raw})
	}
	return key, nil
}

// FeatureSet is an unordered set of granted features
type FeatureSet map[FeatureKey]struct{}

// NewFeatureSet builds a set from keys
func NewFeatureSet(keys ...FeatureKey) FeatureSet {
	set := make(FeatureSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Has is an exact membership test
func (s FeatureSet) Has(key FeatureKey) bool {
	if s == nil {
		return false
	}
	_, ok := s[key]
	return ok
}

// Keys returns the members sorted
func (s FeatureSet) Keys() []FeatureKey {
	out := make([]FeatureKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members sorted as plain strings
func (s FeatureSet) Strings() []string {
	keys := s.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// Clone returns an independent copy
func (s FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
