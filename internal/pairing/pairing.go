// Package pairing mints short-lived secp256k1-signed pairing tokens for a
// (host, user) pair and renders them as a URL/QR code, so an operator can
// hand a one-time enrollment link to a remote user instead of typing
// credentials into the browser.
package pairing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Token is an issued pairing token.
type Token struct {
	ID      string
	Host    string
	User    string
	Expires time.Time
	sig     *schnorr.Signature
	msg     []byte
	used    bool
}

// Issuer mints and redeems pairing tokens, tracking single-use consumption
// in an in-memory map. Expired tokens are rejected by Redeem but are never
// removed from the map; there is no background sweep.
type Issuer struct {
	privKey *btcec.PrivateKey

	mu     sync.Mutex
	tokens map[string]*Token
}

// NewIssuer generates a fresh ephemeral signing key for this service
// instance's lifetime.
func NewIssuer() (*Issuer, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Issuer{privKey: priv, tokens: make(map[string]*Token)}, nil
}

func tokenDigest(host, user string, expires time.Time) []byte {
	payload := fmt.Sprintf("%s|%s|%d", host, user, expires.Unix())
	sum := sha256.Sum256([]byte(payload))
	return sum[:]
}

// Issue mints a new single-use token for (host, user) valid for ttl.
func (is *Issuer) Issue(host, user string, ttl time.Duration) (*Token, error) {
	expires := time.Now().Add(ttl)
	msg := tokenDigest(host, user, expires)
	sig, err := schnorr.Sign(is.privKey, msg)
	if err != nil {
		return nil, fmt.Errorf("pairing: signing token: %w", err)
	}

	id := base64.RawURLEncoding.EncodeToString(sig.Serialize())
	tok := &Token{
		ID:      id,
		Host:    host,
		User:    user,
		Expires: expires,
		sig:     sig,
		msg:     msg,
	}

	is.mu.Lock()
	is.tokens[id] = tok
	is.mu.Unlock()

	return tok, nil
}

// URL returns the pairing URL for a token, consumed by a browser GET.
func (t *Token) URL() string {
	return "/pair/" + t.ID
}

// ErrTokenInvalid is returned by Redeem for an unknown, expired, or
// already-consumed token.
var ErrTokenInvalid = errors.New("pairing: token invalid, expired, or already used")

// Redeem validates and consumes a token by ID, returning the (host, user)
// it was minted for. Tokens are single-use: a second Redeem of the same ID
// fails even within the TTL window.
func (is *Issuer) Redeem(id string) (host, user string, err error) {
	is.mu.Lock()
	defer is.mu.Unlock()

	tok, ok := is.tokens[id]
	if !ok {
		return "", "", ErrTokenInvalid
	}
	if tok.used || time.Now().After(tok.Expires) {
		return "", "", ErrTokenInvalid
	}
	if !tok.sig.Verify(tok.msg, is.privKey.PubKey()) {
		return "", "", ErrTokenInvalid
	}

	tok.used = true
	return tok.Host, tok.User, nil
}

// PublicKeyHex returns the issuer's public key, useful for diagnostics
// and audit logging.
func (is *Issuer) PublicKeyHex() string {
	return hex.EncodeToString(is.privKey.PubKey().SerializeCompressed())
}
