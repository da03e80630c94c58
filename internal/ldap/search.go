package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

// Searcher runs paged searches over the shared administrative connection.
type Searcher struct {
	source  *DataSource
	logger  logging.Logger
	metrics metrics.Recorder
}

// NewSearcher creates a Searcher on top of source.
func NewSearcher(source *DataSource, logger logging.Logger, m metrics.Recorder) *Searcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Searcher{
		source:  source,
		logger:  logger,
		metrics: m,
	}
}

// Search returns every entry matching req, accumulated across all pages in
// server order. A server that refuses paging fails the whole search with
// ErrPagingUnsupported and a ctx that ends mid-search fails it with the
// context error; partial results are never returned.
func (s *Searcher) Search(ctx context.Context, req *SearchRequest) ([]*ldap.Entry, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"filter":     req.Filter,
		"attributes": req.Attributes,
	}

	s.logger.Debug("Starting paged search", fields)

	conn, err := s.source.Connection(ctx)
	if err != nil {
		logFailure(s.logger, "Failed to obtain directory connection", err, fields)
		s.metrics.RecordSearch(0, false)
		return nil, err
	}

	var entries []*ldap.Entry
	paging := ldap.NewControlPaging(PageSize)
	pages := 0

	for {
		pages++
		cookie, err := s.searchPage(ctx, conn, req, paging, &entries)
		if err != nil {
			fields["page"] = pages
			fields["entries_discarded"] = len(entries)
			logFailure(s.logger, "Paged search failed", err, fields)
			s.metrics.RecordSearch(pages, false)

			if IsConnectionError(err) {
				s.source.Disconnect()
			}
			return nil, err
		}

		s.logger.Trace("Search page completed", map[string]any{
			"page":        pages,
			"entries":     len(entries),
			"more_pages":  len(cookie) > 0,
			"base_dn":     req.BaseDN,
			"page_cookie": len(cookie),
		})

		if len(cookie) == 0 {
			break
		}
		paging.SetCookie(cookie)
	}

	s.metrics.RecordSearch(pages, true)
	fields["pages"] = pages
	fields["entries"] = len(entries)
	logging.LogPerformance(s.logger, "paged_search", time.Since(start), fields)

	return entries, nil
}

// searchPage dispatches one page and appends its entries. It returns the
// continuation cookie, empty when no pages remain. The page's response
// stream is cancelled on every return path.
func (s *Searcher) searchPage(ctx context.Context, conn Conn, req *SearchRequest, paging *ldap.ControlPaging, entries *[]*ldap.Entry) ([]byte, error) {
	pageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	searchReq := ldap.NewSearchRequest(
		req.BaseDN,
		req.Scope,
		ldap.NeverDerefAliases,
		0,
		s.timeLimit(req),
		false,
		req.Filter,
		req.Attributes,
		[]ldap.Control{paging},
	)

	resp := conn.SearchAsync(pageCtx, searchReq, searchBufferSize)
	for resp.Next() {
		if entry := resp.Entry(); entry != nil {
			if entry.DN == "" {
				s.logger.Error("Entry extraction failed, skipping entry", map[string]any{
					"base_dn": req.BaseDN,
				})
				continue
			}
			*entries = append(*entries, entry)
			continue
		}

		if referral := resp.Referral(); referral != "" {
			s.logger.Warn("Skipping search referral", map[string]any{
				"referral": referral,
				"base_dn":  req.BaseDN,
			})
		}
	}

	// a cancelled stream ends without an error or controls
	if err := pageCtx.Err(); err != nil {
		return nil, opError("search", req.BaseDN, err)
	}

	if err := resp.Err(); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform) {
			return nil, opError("search", req.BaseDN, fmt.Errorf("%w: %w", ErrPagingUnsupported, err))
		}
		return nil, opError("search", req.BaseDN, err)
	}

	if ctrl, ok := ldap.FindControl(resp.Controls(), ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		return ctrl.Cookie, nil
	}
	return nil, nil
}

// timeLimit is the server-side limit in whole seconds. Requests without their
// own limit inherit the connection timeout.
func (s *Searcher) timeLimit(req *SearchRequest) int {
	limit := req.TimeLimit
	if limit <= 0 {
		limit = s.source.cfg.Timeout
	}
	return int(limit.Seconds())
}
