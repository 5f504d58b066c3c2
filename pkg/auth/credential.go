// Package auth implements the Auth Core (C5): credential parsing, password
// verification, JWT minting/verification, and the RBAC check.
package auth

import (
	"encoding/base64"
	"strings"
)

// Kind enumerates the credential taxonomy.
type Kind string

const (
	KindBasic  Kind = "Basic"
	KindBearer Kind = "Bearer"
	KindNone   Kind = "None"
	KindSystem Kind = "System"
)

// Credential is the parsed form of an Authorization header, or the System
// sentinel. It is never serialized onto the wire: ParseAuthorizationHeader
// never produces KindSystem, which is the only constructor for it.
type Credential struct {
	Kind     Kind
	Username string
	Password string
	Token    string
}

// System is the non-wire-serializable sentinel internal schedulers use to
// bypass authorization (spec §4.5). It is exposed here rather than gated
// behind an unexported constructor because Go has no cross-package
// friend-access mechanism finer than the package boundary itself; callers
// outside pkg/scheduler are expected never to construct it, and nothing in
// the HTTP/WebSocket parsing path can produce it.
var System = Credential{Kind: KindSystem}

// None is the fail-soft result of an unparseable or absent Authorization
// header.
var None = Credential{Kind: KindNone}

// ParseAuthorizationHeader parses an `Authorization` header value into a
// Credential, failing soft to None on any malformed input or unsupported
// scheme — per spec §4.5, this function never returns an error.
func ParseAuthorizationHeader(header string) Credential {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return None
	}

	switch scheme {
	case "Basic":
		return parseBasic(value)
	case "Bearer":
		return parseBearer(value)
	default:
		return None
	}
}

func parseBasic(value string) Credential {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return None
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return None
	}
	return Credential{Kind: KindBasic, Username: user, Password: pass}
}

func parseBearer(value string) Credential {
	segments := strings.Split(value, ".")
	if len(segments) != 3 {
		return None
	}
	for _, seg := range segments[:2] {
		if _, err := base64.RawURLEncoding.DecodeString(seg); err != nil {
			return None
		}
	}
	// Signature is not verified at parse time — only at Authenticate.
	return Credential{Kind: KindBearer, Token: value}
}
