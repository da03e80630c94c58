package ldap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapfence/internal/logging"
)

var (
	// ErrPagingUnsupported is returned when the server answers a paged search
	// with unwillingToPerform. Any entries already accumulated are discarded.
	ErrPagingUnsupported = errors.New("directory server cannot handle paged search")

	// ErrNoConnection is returned when no connection could be established.
	ErrNoConnection = errors.New("no directory connection available")
)

// Kind says how a caller reacts to a failed directory operation.
type Kind string

const (
	// KindConnection means the connection is unusable and must be redialled.
	KindConnection Kind = "connection"
	// KindBindRejected means the server refused the bind credentials.
	KindBindRejected Kind = "bind_rejected"
	KindOther        Kind = "other"
)

// OpError is a failed connect, bind or search.
type OpError struct {
	Op   string
	DN   string
	Kind Kind
	Code uint16 // LDAP result code; zero when no result was received
	Err  error
}

func (e *OpError) Error() string {
	msg := "ldap " + e.Op
	if e.DN != "" {
		msg += " " + e.DN
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (result %d %s)", e.Code, ldap.LDAPResultCodeMap[e.Code])
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// opError wraps err for op against dn. It returns nil for a nil err.
func opError(op, dn string, err error) error {
	if err == nil {
		return nil
	}

	e := &OpError{Op: op, DN: dn, Kind: kindOf(err), Err: err}
	var result *ldap.Error
	if errors.As(err, &result) {
		e.Code = result.ResultCode
	}
	return e
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNoConnection):
		return KindConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the caller gave up; the connection itself is fine
		return KindOther
	}

	var result *ldap.Error
	if errors.As(err, &result) {
		switch result.ResultCode {
		case ldap.LDAPResultInvalidCredentials,
			ldap.LDAPResultInappropriateAuthentication,
			ldap.ErrorEmptyPassword:
			return KindBindRejected
		case ldap.ErrorNetwork,
			ldap.LDAPResultServerDown,
			ldap.LDAPResultConnectError,
			ldap.LDAPResultTimeout:
			return KindConnection
		}
		return KindOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return KindConnection
	}
	return KindOther
}

// IsBindRejected reports whether err is a bind refused for its credentials.
func IsBindRejected(err error) bool {
	return err != nil && kindOf(err) == KindBindRejected
}

// IsConnectionError reports whether err left the connection unusable.
func IsConnectionError(err error) bool {
	return err != nil && kindOf(err) == KindConnection
}

// logFailure logs err at error level with its operation, kind and result code.
func logFailure(logger logging.Logger, msg string, err error, fields map[string]any) {
	entry := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		entry[k] = v
	}
	entry["error"] = err.Error()

	var e *OpError
	if errors.As(err, &e) {
		entry["ldap_op"] = e.Op
		entry["error_kind"] = string(e.Kind)
		if e.Code != 0 {
			entry["ldap_result"] = e.Code
		}
	}

	logger.Error(msg, entry)
}
