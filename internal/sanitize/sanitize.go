// Package sanitize runs agent-served HTML and CSS resources through an
// HTML sanitizer before they reach the browser, guarding against a
// compromised or buggy agent module serving stored markup. Binary and
// script content passes through untouched.
package sanitize

import "github.com/microcosm-cc/bluemonday"

// policy is a single shared UGC policy; bluemonday policies are safe for
// concurrent use once built.
var policy = bluemonday.UGCPolicy()

// NeedsSanitizing reports whether a resource of the given content type must
// be run through Bytes before being written to a response.
func NeedsSanitizing(contentType string) bool {
	switch contentType {
	case "text/html", "text/html; charset=utf-8", "text/css", "text/css; charset=utf-8":
		return true
	default:
		return false
	}
}

// Bytes runs b through the UGC sanitizing policy, stripping any markup that
// could execute script or exfiltrate data in the browser.
func Bytes(b []byte) []byte {
	return policy.SanitizeBytes(b)
}
