// Package hubauth manages the broker's authentication against the hub's
// OIDC-style identity provider: obtaining robot-credential token pairs,
// caching them per destination host, and transparently attaching a valid
// bearer token to every outbound request.
//
// The per-host token lifecycle is:
//
//	no entry                     -> authenticate
//	access token valid           -> reuse
//	access expired, refresh ok   -> refresh
//	access and refresh expired   -> authenticate
//
// The decision is atomic per host so concurrent callers never trigger
// duplicate authentications.
package hubauth
