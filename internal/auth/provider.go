package auth

import (
	"context"
	"errors"
)

// Decision is the outcome of one provider's authentication attempt.
type Decision int

const (
	// NoMatch means the provider does not recognise the credentials.
	NoMatch Decision = iota

	// Match means the credentials are valid. The gateway stops here.
	Match

	// Abstain means the provider could not decide, e.g. the directory was
	// unreachable. The gateway moves on to the next provider.
	Abstain

	// Fatal means the attempt failed in a way that must not be papered over
	// with partial data, e.g. a directory that cannot page. The gateway
	// logs it and moves on.
	Fatal
)

func (d Decision) String() string {
	switch d {
	case NoMatch:
		return "no_match"
	case Match:
		return "match"
	case Abstain:
		return "abstain"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result carries a provider's decision.
type Result struct {
	Decision   Decision
	Credential *Credential // set only for Match
	Err        error       // set only for Abstain and Fatal
}

// Matched returns a Match result for cred.
func Matched(cred *Credential) Result {
	return Result{Decision: Match, Credential: cred}
}

// NotMatched returns a NoMatch result.
func NotMatched() Result {
	return Result{Decision: NoMatch}
}

// Abstained returns an Abstain result caused by err.
func Abstained(err error) Result {
	return Result{Decision: Abstain, Err: err}
}

// Failed returns a Fatal result caused by err.
func Failed(err error) Result {
	return Result{Decision: Fatal, Err: err}
}

// Provider verifies a username/password pair.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	Authenticate(ctx context.Context, username, password string) Result
}

// Sentinel errors.
var (
	ErrRootCredentialMissing = errors.New("root username and password are required")
	ErrNoProviders           = errors.New("at least one provider is required")
)
