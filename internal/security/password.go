package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordEmpty = errors.New("password is empty")

// dummyHash is compared against when no user matches so that unknown emails
// cost the same bcrypt work as wrong passwords.
var dummyHash = []byte("$2a$12$C6UzMDM.H6dfI/f/IKcEeO5n6yI0Ub1l5QnS6YQ1r6vQp8rj5hLlq")

func HashPassword(password string, cost int) (string, error) {
	if len(password) == 0 {
		return "", ErrPasswordEmpty
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BurnPasswordCheck spends one bcrypt comparison without a real hash.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
