package auth

import (
	"encoding/base64"
	"strings"
	"unicode"
)

const basicScheme = "Basic"

// DecodeBasic parses an Authorization header value of the form
// "Basic base64(username:password)".
//
// Malformed input is reported as ok == false and is never an error: a
// missing scheme, an empty or undecodable payload, or a payload that does not
// split into exactly two colon-separated segments. Either segment may be empty.
func DecodeBasic(header string) (username, password string, ok bool) {
	header = strings.TrimSpace(header)
	sep := strings.IndexFunc(header, unicode.IsSpace)
	if sep < 0 || !strings.EqualFold(header[:sep], basicScheme) {
		return "", "", false
	}

	payload := strings.TrimSpace(header[sep:])
	if payload == "" {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", "", false
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 2 {
		return "", "", false
	}

	return parts[0], parts[1], true
}

// EncodeBasic builds the Authorization header value for username/password.
func EncodeBasic(username, password string) string {
	return basicScheme + " " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
