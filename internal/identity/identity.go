// Package identity is a read-only projection of the external identity
// service. Account creation, credentials, and tokens live there; this
// service only resolves ids to emails for feed decoration and compares
// ids for ownership checks.
package identity

// Identity is the minimal view of a user account this service consumes.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
