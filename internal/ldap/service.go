package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapfence/internal/logging"
)

// ServiceConfig configures an AuthService.
type ServiceConfig struct {
	Connection *ConnectionConfig

	UserBaseDN     string
	UserFilter     string // must contain {USERNAME}
	UserAttributes []string

	GroupBaseDN    string
	GroupFilter    string   // must contain {MEMBER_DN}
	GroupNames     []string // accepted group names; empty disables the group check
	GroupAttribute string   // attribute holding the group name, default "cn"

	EscapeFilterValues bool
}

// AuthService verifies end-user passwords against the directory.
//
// Searches run over one shared administrative connection. Password checks
// bind as the candidate entry on a private connection per attempt.
type AuthService struct {
	admin    *DataSource
	searcher *Searcher
	logger   logging.Logger

	userBase       string
	userFilter     FilterTemplate
	userAttributes []string

	groupBase      string
	groupFilter    FilterTemplate
	groupAttribute string
	groups         map[string]struct{}
}

// NewAuthService validates cfg and creates a disconnected AuthService.
func NewAuthService(cfg ServiceConfig, opts ...Option) (*AuthService, error) {
	if err := cfg.Connection.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory connection: %w", err)
	}
	if cfg.UserBaseDN == "" {
		return nil, fmt.Errorf("user base DN is required")
	}
	if cfg.UserFilter == "" {
		return nil, fmt.Errorf("user filter is required")
	}

	groups := ParseGroupNames(cfg.GroupNames)
	if len(groups) > 0 && (cfg.GroupBaseDN == "" || cfg.GroupFilter == "") {
		return nil, fmt.Errorf("group base DN and group filter are required when group names are configured")
	}

	groupAttribute := cfg.GroupAttribute
	if groupAttribute == "" {
		groupAttribute = "cn"
	}

	admin := NewDataSource(cfg.Connection, opts...)
	logger := admin.logger

	return &AuthService{
		admin:    admin,
		searcher: NewSearcher(admin, logger, admin.metrics),
		logger:   logger,

		userBase:       cfg.UserBaseDN,
		userFilter:     FilterTemplate{Template: cfg.UserFilter, Token: TokenUsername, Escape: cfg.EscapeFilterValues},
		userAttributes: cfg.UserAttributes,

		groupBase:      cfg.GroupBaseDN,
		groupFilter:    FilterTemplate{Template: cfg.GroupFilter, Token: TokenMemberDN, Escape: cfg.EscapeFilterValues},
		groupAttribute: groupAttribute,
		groups:         groups,
	}, nil
}

// ParseGroupNames upper-cases and de-duplicates group names, splitting
// comma-separated values and dropping empty ones.
func ParseGroupNames(names []string) map[string]struct{} {
	groups := make(map[string]struct{})
	for _, name := range names {
		for part := range strings.SplitSeq(name, ",") {
			if part = strings.TrimSpace(part); part != "" {
				groups[strings.ToUpper(part)] = struct{}{}
			}
		}
	}
	return groups
}

// Lookup returns the user entries matching username whose password verifies
// and which pass the group filter. Callers decide what a count other than
// one means.
func (s *AuthService) Lookup(ctx context.Context, username, password string) ([]*ldap.Entry, error) {
	users, err := s.searcher.Search(ctx, &SearchRequest{
		BaseDN:     s.userBase,
		Filter:     s.userFilter.Build(username),
		Scope:      ldap.ScopeWholeSubtree,
		Attributes: s.userAttributes,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Searched user entries", map[string]any{
		"username": username,
		"results":  len(users),
	})

	var verified []*ldap.Entry
	for _, entry := range users {
		if !s.verify(ctx, entry.DN, password) {
			continue
		}
		if !s.isMemberOf(ctx, entry) {
			continue
		}
		verified = append(verified, entry)
	}

	return verified, nil
}

// verify reports whether a simple bind as dn with password succeeds. The
// verification connection is always torn down.
func (s *AuthService) verify(ctx context.Context, dn, password string) bool {
	source := s.admin.WithCredentials(dn, password)
	defer source.Disconnect()

	if _, err := source.Connection(ctx); err != nil {
		fields := map[string]any{
			"dn":    dn,
			"error": err.Error(),
		}
		if IsBindRejected(err) {
			s.logger.Info("User bind rejected", fields)
		} else {
			s.logger.Warn("User bind failed", fields)
		}
		return false
	}

	s.logger.Info("User bind succeeded", map[string]any{"dn": dn})
	return true
}

// Close releases the administrative connection.
func (s *AuthService) Close() {
	s.admin.Disconnect()
}
