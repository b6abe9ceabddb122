// Package auth authenticates admin-provisioned users and authorises their
// access to junctions.
//
// It provides:
//   - Argon2id password hashing
//   - HS256 access/refresh bearer tokens (golang-jwt)
//   - A session registry that makes refresh tokens revocable
//   - A role × junction-allowlist access policy
//   - Admin operations over users and junction grants
//
// Roles form a closed, ordered set: ADMIN > OPERATOR > OBSERVER. ADMIN
// bypasses junction scoping entirely; everyone else sees only the junctions
// they have been explicitly granted ("zero access by default").
//
// Access tokens embed a snapshot of the user's junction allowlist taken at
// issuance or refresh. Grants and revocations made afterwards are not
// visible through an existing access token until it is refreshed or
// re-issued; the short access-token lifetime bounds that staleness. Verify
// does re-check that the subject still exists and is active, so deactivating
// a user cuts off their outstanding access tokens on the next request.
//
// There is no denylist for individual access tokens. Logout and session
// deletion stop future refreshes only; an access token already in hand stays
// valid until it expires.
package auth
