package tenantauth

// SessionStatus is the state of a SessionContext
type SessionStatus string

const (
	StatusUnauthenticated            SessionStatus = "unauthenticated"
	StatusAuthenticating             SessionStatus = "authenticating"
	StatusAuthenticated              SessionStatus = "authenticated"
	StatusAuthenticatedNoEntitlement SessionStatus = "authenticated_no_entitlement"
)

// SessionState is a read only copy of a SessionContext
type SessionState struct {
	Status   SessionStatus        `json:"status"`
	Loading  bool                 `json:"loading"`
	Identity *Identity            `json:"identity,omitempty"`
	Tenant   *TenantRef           `json:"tenant,omitempty"`
	Snapshot *EntitlementSnapshot `json:"entitlement,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Authenticated reports whether an identity is present
func (s SessionState) Authenticated() bool {
	return s.Identity != nil
}

// Settled is false while bootstrap, login or a resolution is running
func (s SessionState) Settled() bool {
	return !s.Loading && s.Status != StatusAuthenticating
}

// HasFeature checks the snapshot carried by the state
func (s SessionState) HasFeature(key FeatureKey) bool {
	return HasFeature(s.Snapshot, key)
}

// TenantID returns the tenant id or an empty string
func (s SessionState) TenantID() string {
	if s.Tenant == nil {
		return ""
	}
	return s.Tenant.ID
}

func (s SessionState) clone() SessionState {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Tenant != nil {
		t := *s.Tenant
		out.Tenant = &t
	}
	out.Snapshot = s.Snapshot.Clone()
	return out
}

// statusFor derives the status from the populated fields
func statusFor(s SessionState) SessionStatus {
	switch {
	case s.Identity == nil:
		return StatusUnauthenticated
	case s.Snapshot != nil:
		return StatusAuthenticated
	default:
		return StatusAuthenticatedNoEntitlement
	}
}

func (s *SessionState) clearIdentity() {
	s.Identity = nil
	s.Tenant = nil
	s.Snapshot = nil
	s.Status = StatusUnauthenticated
}
