// Package reauth implements the agent "authorize" re-challenge: extracting
// the type/user from a challenge string and computing the response for the
// one scheme this core still has to answer itself, "crypt1", as an
// HMAC-SHA256 response to a server-supplied cookie rather than a libc
// crypt(3) binding.
package reauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Challenge is the decoded form of a "type:user:salt..." challenge string.
type Challenge struct {
	Type string
	User string
	Rest string // remaining colon-delimited fields, scheme-specific
}

// ParseChallenge splits a challenge string into its type, user, and the
// remainder. ok is false if the challenge doesn't have at least type:user.
func ParseChallenge(challenge string) (Challenge, bool) {
	parts := strings.SplitN(challenge, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Challenge{}, false
	}
	c := Challenge{Type: parts[0], User: parts[1]}
	if len(parts) == 3 {
		c.Rest = parts[2]
	}
	return c, true
}

// Crypt1Response computes the crypt1-equivalent response for a password and
// cookie: HMAC-SHA256(password, cookie), base64-encoded. This stands in for
// a libc crypt(3) call.
func Crypt1Response(password, cookie string) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte(cookie))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
