// Package ldap implements directory-backed password verification.
//
// A DataSource owns one lazily established, bound connection. A Searcher runs
// paged searches over that connection, following continuation cookies until
// the server reports no more pages. AuthService combines the two: it finds
// user entries by filter, verifies the password by binding as each candidate
// on a private connection, and optionally keeps only members of configured
// groups.
package ldap
