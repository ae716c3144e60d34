package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordNotConfigured 未配置管理员密码哈希
var ErrPasswordNotConfigured = errors.New("admin password hash not configured")

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a password with a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// VerifyAdmin 校验管理员密码，未配置哈希时总是失败
func VerifyAdmin(password, hash string) error {
	if hash == "" {
		return ErrPasswordNotConfigured
	}
	if !CheckPasswordHash(password, hash) {
		return errors.New("invalid password")
	}
	return nil
}
