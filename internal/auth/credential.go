package auth

import (
	"fmt"
	"time"
)

// Credential is an authenticated username/password pair.
//
// ExpiresAt is zero for credentials that never expire (the root credential).
// Directory credentials written to the Store carry an expiry and the
// identity the directory reported for the user.
type Credential struct {
	Username  string
	Password  string
	ExpiresAt time.Time

	// Source names the provider that verified the credential.
	Source string

	// Directory identity, empty for the root credential.
	DN   string
	SID  string
	GUID string
}

// Expired reports whether the credential is no longer valid at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// String never includes the password.
func (c Credential) String() string {
	if c.ExpiresAt.IsZero() {
		return fmt.Sprintf("Credential{Username: %s, Source: %s}", c.Username, c.Source)
	}
	return fmt.Sprintf("Credential{Username: %s, Source: %s, ExpiresAt: %s}",
		c.Username, c.Source, c.ExpiresAt.Format(time.RFC3339))
}

// GoString keeps %#v from printing the password.
func (c Credential) GoString() string {
	return c.String()
}
