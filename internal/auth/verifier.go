// Package auth provides bearer token verification for the trace API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported modes.
const (
	ModeNone = "none"
	ModeDev  = "dev"
	ModeHMAC = "hmac"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Verifier validates bearer tokens and extracts the caller.
// Modes: none (everyone is an anonymous admin), dev (token is "subject:role"),
// hmac (HS256 JWT with sub and role claims).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	RoleClaim  string
	now        func() time.Time
}

type Principal struct {
	Subject string
	Role    string // admin or user
}

// IsAdmin reports whether the principal may see every trace.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

func NewVerifier(mode, secret string) (*Verifier, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeNone
	}
	switch mode {
	case ModeNone, ModeDev:
	case ModeHMAC:
		if secret == "" {
			return nil, errors.New("hmac auth requires a secret")
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), RoleClaim: "role", now: time.Now}, nil
}

// Verify checks token. In mode none the token is ignored.
func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeNone:
		return Principal{Subject: "anonymous", Role: "admin"}, nil
	case ModeDev:
		// token format: subject:role
		parts := strings.SplitN(token, ":", 2)
		if len(parts) == 2 && parts[0] != "" {
			return Principal{Subject: parts[0], Role: normalizeRole(parts[1])}, nil
		}
		if token == "" {
			return Principal{}, ErrMissingToken
		}
		return Principal{}, fmt.Errorf("%w: expected subject:role", ErrInvalidToken)
	case ModeHMAC:
		return v.verifyHS256(token)
	}
	return Principal{}, errors.New("unsupported auth mode")
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, fmt.Errorf("%w: malformed JWT", ErrInvalidToken)
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if hdr.Alg != "HS256" {
		return Principal{}, fmt.Errorf("%w: unsupported alg %q", ErrInvalidToken, hdr.Alg)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, ErrExpired
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	role, _ := claims[v.RoleClaim].(string)
	return Principal{Subject: sub, Role: normalizeRole(role)}, nil
}

func normalizeRole(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	if r == "" {
		return "user"
	}
	return r
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
