package ldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Filter template tokens.
const (
	TokenUsername = "{USERNAME}"
	TokenMemberDN = "{MEMBER_DN}"
)

// FilterTemplate substitutes a value into a search filter.
type FilterTemplate struct {
	Template string
	Token    string

	// Escape applies RFC 4515 escaping to the substituted value. Without it
	// the value is inserted verbatim.
	Escape bool
}

// Build returns the filter with every occurrence of the token replaced.
func (f FilterTemplate) Build(value string) string {
	if f.Escape {
		value = ldap.EscapeFilter(value)
	}
	return strings.ReplaceAll(f.Template, f.Token, value)
}
