// Package creds holds the minimal credential handle the core threads
// through session lookup and the SSH transport. Authentication itself
// happens upstream of this package; it only carries the
// already-authenticated result.
package creds

import "sync"

// Creds is a handle to a user's credentials, as received from the external
// authentication layer. A Creds can be "poisoned" on logout so that it can
// no longer be used to open new sessions, without invalidating sessions
// already open under it.
type Creds struct {
	mu         sync.RWMutex
	User       string
	Password   string // may be empty if authenticated by key
	RemoteHost string // the host the user originally authenticated against
	poisoned   bool
}

// New creates a Creds handle for the given user.
func New(user, password, remoteHost string) *Creds {
	return &Creds{User: user, Password: password, RemoteHost: remoteHost}
}

// Poison marks the credentials as no longer usable to open new sessions.
func (c *Creds) Poison() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poisoned = true
}

// Poisoned reports whether Poison has been called.
func (c *Creds) Poisoned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.poisoned
}
