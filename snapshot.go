package tenantauth

import "time"

// ProfileRecord is the raw profile row joined with its profile type. Features
// is nil when the backend stored no list.
type ProfileRecord struct {
	UserID                string     `json:"user_id"`
	TenantID              string     `json:"tenant_id"`
	ProfileType           string     `json:"profile_type"`
	Features              []string   `json:"features"`
	SubscriptionStatus    string     `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
}

// EntitlementSnapshot is the point in time entitlement of an identity.
// The feature set is the only gate, subscription fields are informational.
type EntitlementSnapshot struct {
	ProfileType           string     `json:"profile_type"`
	Features              FeatureSet `json:"-"`
	SubscriptionStatus    string     `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	// Unrecognized lists backend keys outside the catalog. They grant nothing.
	Unrecognized []string `json:"unrecognized,omitempty"`
}

// BuildSnapshot extracts the entitlement from a profile record. It never
// fails: unknown feature strings are kept aside and a missing list yields
// an empty set. Keys must match the catalog exactly, so padded or
// differently cased strings are unrecognized.
func BuildSnapshot(record *ProfileRecord) *EntitlementSnapshot {
	if record == nil {
		return nil
	}

	snap := &EntitlementSnapshot{
		ProfileType:        record.ProfileType,
		Features:           make(FeatureSet, len(record.Features)),
		SubscriptionStatus: record.SubscriptionStatus,
	}

	if record.SubscriptionExpiresAt != nil {
		exp := *record.SubscriptionExpiresAt
		snap.SubscriptionExpiresAt = &exp
	}

	for _, raw := range record.Features {
		key := FeatureKey(raw)
		if key.IsValid() {
			snap.Features[key] = struct{}{}
			continue
		}
		snap.Unrecognized = append(snap.Unrecognized, raw)
	}

	return snap
}

// HasFeature is true iff key is in the snapshot feature set
func HasFeature(snapshot *EntitlementSnapshot, key FeatureKey) bool {
	if snapshot == nil {
		return false
	}
	return snapshot.Features.Has(key)
}

// Has is the method form of HasFeature
func (s *EntitlementSnapshot) Has(key FeatureKey) bool {
	return HasFeature(s, key)
}

// Expired reports whether the subscription expiry is in the past. It does
// not revoke anything.
func (s *EntitlementSnapshot) Expired(now time.Time) bool {
	if s == nil || s.SubscriptionExpiresAt == nil {
		return false
	}
	return now.After(*s.SubscriptionExpiresAt)
}

// Clone returns a deep copy
func (s *EntitlementSnapshot) Clone() *EntitlementSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Features = s.Features.Clone()
	if s.SubscriptionExpiresAt != nil {
		exp := *s.SubscriptionExpiresAt
		out.SubscriptionExpiresAt = &exp
	}
	if len(s.Unrecognized) > 0 {
		out.Unrecognized = append([]string(nil), s.Unrecognized...)
	}
	return &out
}

// FeatureList is used for view models
func (s *EntitlementSnapshot) FeatureList() []string {
	if s == nil {
		return []string{}
	}
	return s.Features.Strings()
}
