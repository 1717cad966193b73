package model

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// MinSecretLength is the minimum accepted length for an explicit token value.
const MinSecretLength = 16

// maskPrefixLen is how many leading characters of a secret are shown in
// masked listings.
const maskPrefixLen = 20

// ErrSecretTooShort is returned when a supplied token value is shorter than
// MinSecretLength.
var ErrSecretTooShort = errors.New("token value must be at least 16 characters")

// Token is an API token authorizing recognition requests. The secret Value is
// the sole lookup key during authorization. MinuteLimit and HourLimit are
// nil for unlimited. UsageCount is authoritative in the store; in-memory
// copies may lag by up to one flush interval.
type Token struct {
	ID          int64     `json:"id" db:"id"`
	Value       string    `json:"token" db:"token"`
	Name        string    `json:"name" db:"name"`
	MinuteLimit *int64    `json:"minute_limit" db:"minute_limit"`
	HourLimit   *int64    `json:"hour_limit" db:"hour_limit"`
	UsageCount  int64     `json:"usage_count" db:"usage_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Masked returns a copy of t with the secret value reduced to a fixed-length
// prefix, safe for listing endpoints.
func (t Token) Masked() Token {
	if len(t.Value) > maskPrefixLen {
		t.Value = t.Value[:maskPrefixLen] + "..."
	}
	return t
}

// ValidateSecret checks an explicitly supplied token value. Surrounding
// whitespace is not considered part of the secret.
func ValidateSecret(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) < MinSecretLength {
		return "", ErrSecretTooShort
	}
	return value, nil
}

// GenerateSecret returns a new random URL-safe token value (43 characters,
// 256 bits of entropy).
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic("generate token secret: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
