package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Identity is what a verified directory entry says about the user.
type Identity struct {
	DN   string
	SID  string // S-1-5-21-..., empty when the entry has no objectSid
	GUID string // lower-case hyphenated, empty when the entry has no objectGUID
}

// IdentityFromEntry extracts DN, SID and GUID from an Active Directory style
// entry. Missing or malformed attributes are left empty.
func IdentityFromEntry(entry *ldap.Entry) Identity {
	if entry == nil {
		return Identity{}
	}

	id := Identity{DN: entry.DN}
	if sid, err := DecodeSID(entry.GetRawAttributeValue("objectSid")); err == nil {
		id.SID = sid
	}
	if guid, err := DecodeGUID(entry.GetRawAttributeValue("objectGUID")); err == nil {
		id.GUID = guid
	}
	return id
}

// DecodeSID converts a binary objectSid to its string form.
func DecodeSID(b []byte) (string, error) {
	// revision, sub-authority count, 6-byte authority, then 4 bytes per
	// sub-authority
	if len(b) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(b))
	}
	if want := 8 + 4*int(b[1]); len(b) != want {
		return "", fmt.Errorf("binary SID length %d does not match %d sub-authorities", len(b), b[1])
	}
	return objectsid.Decode(b).String(), nil
}

// DecodeGUID converts a binary objectGUID to a hyphenated string.
// Active Directory stores the first three groups little-endian.
func DecodeGUID(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("binary GUID must be 16 bytes, got %d", len(b))
	}

	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])

	return u.String(), nil
}
