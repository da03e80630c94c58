package ldap

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// fakePage scripts the messages of one search round trip.
type fakePage struct {
	entries   []*ldap.Entry
	referrals []string
	cookie    []byte
	err       error
	stall     bool // hang after the entries until the search context ends
}

// fakeDirectory hands out fakeConns and records what they see.
type fakeDirectory struct {
	mu        sync.Mutex
	passwords map[string]string // bind DN -> password
	handler   func(req *ldap.SearchRequest) fakePage
	dialErr   error
	unbindErr error
	conns     []*fakeConn
	searches  []searchCall
}

type searchCall struct {
	baseDN    string
	filter    string
	attrs     []string
	cookie    []byte
	timeLimit int
	ctx       context.Context
	conn      *fakeConn
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{passwords: map[string]string{}}
}

func (d *fakeDirectory) dial(_ context.Context, cfg *ConnectionConfig) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{dir: d, url: cfg.URL()}
	d.conns = append(d.conns, c)
	return c, nil
}

// pagedHandler serves pages in order, one per request.
func pagedHandler(pages ...fakePage) func(*ldap.SearchRequest) fakePage {
	var mu sync.Mutex
	i := 0
	return func(*ldap.SearchRequest) fakePage {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(pages) {
			return fakePage{}
		}
		p := pages[i]
		i++
		return p
	}
}

func (d *fakeDirectory) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDirectory) searchCalls() []searchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]searchCall(nil), d.searches...)
}

type fakeConn struct {
	dir *fakeDirectory
	url string

	mu      sync.Mutex
	boundAs string
	unbinds int
	closes  int
	closing bool
}

func (c *fakeConn) Bind(username, password string) error {
	if password == "" {
		return ldap.NewError(ldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client"))
	}

	c.dir.mu.Lock()
	want, ok := c.dir.passwords[username]
	c.dir.mu.Unlock()

	if !ok || want != password {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}

	c.mu.Lock()
	c.boundAs = username
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) GSSAPIBind(ldap.GSSAPIClient, string, string) error {
	return errors.New("GSSAPI not supported by fake")
}

func (c *fakeConn) SearchAsync(ctx context.Context, req *ldap.SearchRequest, _ int) ldap.Response {
	var cookie []byte
	if ctrl, ok := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		cookie = append([]byte(nil), ctrl.Cookie...)
	}

	c.dir.mu.Lock()
	c.dir.searches = append(c.dir.searches, searchCall{
		baseDN: req.BaseDN,
		filter: req.Filter,
		attrs:  req.Attributes,
		cookie:    cookie,
		timeLimit: req.TimeLimit,
		ctx:       ctx,
		conn:      c,
	})
	handler := c.dir.handler
	c.dir.mu.Unlock()

	page := fakePage{}
	if handler != nil {
		page = handler(req)
	}
	return newFakeResponse(ctx, page)
}

func (c *fakeConn) Unbind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbinds++
	c.closing = true
	return c.dir.unbindErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closing = true
	return nil
}

func (c *fakeConn) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *fakeConn) torndown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unbinds > 0 && c.closes > 0
}

type fakeMessage struct {
	entry    *ldap.Entry
	referral string
}

// fakeResponse mimics go-ldap's async response: entries and referrals,
// then a final message for the search-done result.
type fakeResponse struct {
	ctx      context.Context
	stall    bool
	msgs     []fakeMessage
	idx      int
	cur      fakeMessage
	controls []ldap.Control
	err      error
}

var _ ldap.Response = (*fakeResponse)(nil)

func newFakeResponse(ctx context.Context, p fakePage) *fakeResponse {
	r := &fakeResponse{ctx: ctx, stall: p.stall, err: p.err}
	for _, e := range p.entries {
		r.msgs = append(r.msgs, fakeMessage{entry: e})
	}
	for _, ref := range p.referrals {
		r.msgs = append(r.msgs, fakeMessage{referral: ref})
	}
	if p.err == nil && !p.stall {
		paging := ldap.NewControlPaging(0)
		paging.SetCookie(p.cookie)
		r.controls = []ldap.Control{paging}
		// search done
		r.msgs = append(r.msgs, fakeMessage{})
	}
	return r
}

func (r *fakeResponse) Entry() *ldap.Entry { return r.cur.entry }
func (r *fakeResponse) Referral() string { return r.cur.referral }
func (r *fakeResponse) Controls() []ldap.Control { return r.controls }
func (r *fakeResponse) Err() error { return r.err }

func (r *fakeResponse) Next() bool {
	if r.idx >= len(r.msgs) {
		if r.stall {
			// go-ldap closes the stream silently on cancellation
			<-r.ctx.Done()
		}
		return false
	}
	r.cur = r.msgs[r.idx]
	r.idx++
	return true
}

func entry(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

func dns(entries []*ldap.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.DN)
	}
	return out
}

func testConfig() *ConnectionConfig {
	cfg := DefaultConfig()
	cfg.Host = "ldap.example.com"
	cfg.BindDN = "cn=admin,dc=example,dc=com"
	cfg.BindPassword = "adminpw"
	return cfg
}
