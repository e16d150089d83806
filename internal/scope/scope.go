// Package scope rewrites channel identifiers between the socket-local
// naming domain the browser speaks and the transport-global domain sessions
// and their indexes store.
package scope

import "strings"

// AddScope prepends a socket's scope prefix to a socket-local channel,
// producing the transport-global form.
func AddScope(scope, local string) string {
	return scope + local
}

// StripScope returns the socket-local suffix of a transport-global channel,
// i.e. everything after the first colon. ok is false if there is no colon.
func StripScope(global string) (local string, ok bool) {
	idx := strings.IndexByte(global, ':')
	if idx < 0 {
		return "", false
	}
	return global[idx+1:], true
}

// Of returns the scope prefix (including the trailing colon) of a
// transport-global channel, or "" if the channel carries no scope. An empty
// prefix never compares equal to any registered scope, since every real
// scope is non-empty ("N:").
func Of(global string) string {
	idx := strings.IndexByte(global, ':')
	if idx < 0 {
		return ""
	}
	return global[:idx+1]
}
