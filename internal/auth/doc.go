// Package auth decides whether a request's Basic credentials are accepted.
//
// A Gateway decodes the Authorization header once and asks each Provider in
// turn. The Store (root credential plus cached directory credentials) comes
// first so that cached identities never cost a directory round trip; the
// DirectoryProvider comes second.
package auth
