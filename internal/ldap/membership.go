package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// isMemberOf reports whether entry belongs to one of the accepted groups.
// Any search or extraction error counts as not a member.
func (s *AuthService) isMemberOf(ctx context.Context, entry *ldap.Entry) bool {
	if len(s.groups) == 0 {
		return true
	}

	groups, err := s.searcher.Search(ctx, &SearchRequest{
		BaseDN:     s.groupBase,
		Filter:     s.groupFilter.Build(entry.DN),
		Scope:      ldap.ScopeWholeSubtree,
		Attributes: []string{s.groupAttribute},
	})
	if err != nil {
		logFailure(s.logger, "Group search failed", err, map[string]any{"member": entry.DN})
		return false
	}

	s.logger.Info("Searched groups of user", map[string]any{
		"member":  entry.DN,
		"results": len(groups),
	})

	for _, group := range groups {
		name, err := attributeValue(group, s.groupAttribute)
		if err != nil {
			s.logger.Error("Group name extraction failed", map[string]any{
				"member": entry.DN,
				"group":  group.DN,
				"error":  err.Error(),
			})
			continue
		}
		if _, ok := s.groups[strings.ToUpper(name)]; ok {
			return true
		}
	}

	return false
}

// attributeValue returns the first value of the named attribute, matching
// the attribute name case-insensitively.
func attributeValue(entry *ldap.Entry, name string) (string, error) {
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, name) && len(attr.Values) > 0 {
			return attr.Values[0], nil
		}
	}
	return "", fmt.Errorf("attribute %q not present", name)
}
