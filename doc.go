// Package tenantauth tracks who is signed in to a multi tenant dashboard,
// which company they act for and which product features their plan grants.
//
// Session context:
//   - SessionContext owns the per client SessionState. It bootstraps from the
//     SessionStore, follows store change notifications and resolves the
//     tenant and entitlement snapshot of the signed in identity.
//   - Every resolution carries a generation number. A result whose
//     generation was superseded by a later notification is discarded.
//
// Entitlements:
//   - CompanyResolver picks the first company membership of an identity and
//     the profile of that identity in that company. The profile type features
//     become an immutable EntitlementSnapshot.
//   - An identity without membership is signed in with no entitlement and
//     holds no feature.
//
// Route guard:
//   - RouteGuard maps the top level path segment to a FeatureKey and decides
//     between loading, redirect to login, the upgrade view and allow.
//     GuardMiddleware applies it to go-router requests.
//
// Session stores:
//   - LocalSessionStore signs JWT access tokens for accounts in the users
//     table. provider/kratos talks to Ory Kratos instead. Tokens are kept
//     per client in a TokenStorage, in memory or in Redis (package cache).
package tenantauth
