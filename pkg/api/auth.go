package api

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// checkCredentials reports whether username/password match a configured
// user. PasswordHash values are bcrypt hashes.
func (s *server) checkCredentials(username, password string) bool {
	for _, u := range s.cfg.Auth.Basic.Users {
		if subtle.ConstantTimeCompare([]byte(u.Username), []byte(username)) != 1 {
			continue
		}

		return bcrypt.CompareHashAndPassword(
			[]byte(u.PasswordHash), []byte(password),
		) == nil
	}

	return false
}
