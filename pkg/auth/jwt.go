package auth

import (
	"crypto/sha512"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// issuer is the fixed `iss` claim every RustyOps-minted token carries.
const issuer = "RustyOps"

// deriveSigningKey computes the HMAC-SHA512 key used to sign and verify a
// user's tokens, derived from their stored bcrypt password hash — so
// rotating a user's password implicitly invalidates every token minted
// under the old hash.
func deriveSigningKey(passwordHash string) []byte {
	sum := sha512.Sum512([]byte(passwordHash))
	return sum[:]
}

// MintToken builds and signs an HS512 JWT for username, valid for ttl,
// signed with a key derived from passwordHash.
func MintToken(username, passwordHash string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   username,
		Audience:  jwt.ClaimStrings{username},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(deriveSigningKey(passwordHash))
	if err != nil {
		return "", apierrors.Newf(apierrors.KindJWT, "sign token: %v", err)
	}
	return signed, nil
}

// ExtractSubject reads the `sub` claim from a JWT without verifying its
// signature — used to look up the user whose password hash will supply
// the verification key.
func ExtractSubject(tokenString string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", apierrors.Newf(apierrors.KindJWT, "parse token: %v", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", apierrors.New(apierrors.KindJWT, "token missing sub claim")
	}
	return sub, nil
}

// VerifyToken checks the signature of tokenString against the key derived
// from passwordHash and returns the verified `sub`. Expiry is checked
// explicitly first so it reports JwtTokenExpiredError rather than a bare
// signature-verification failure.
func VerifyToken(tokenString, passwordHash string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	var claims jwt.RegisteredClaims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return deriveSigningKey(passwordHash), nil
	})
	if err != nil {
		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			return "", apierrors.ErrJwtTokenExpired
		}
		return "", apierrors.ErrUnauthenticated
	}
	if !token.Valid {
		return "", apierrors.ErrUnauthenticated
	}
	return claims.Subject, nil
}
