package auth

import (
	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost resolves spec §9's open question — the source inconsistently
// hashes with sha512 in one path and bcrypt in another. RustyOps applies
// bcrypt uniformly, at a cost high enough to stay expensive as hardware
// improves without making interactive login noticeably slow.
const bcryptCost = 12

// HashPassword returns the bcrypt hash stored on User.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", apierrors.Newf(apierrors.KindHashing, "hash password: %v", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
