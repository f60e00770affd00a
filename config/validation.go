// Package config validates the connection settings the storage backends
// receive before they open a client. Every failure wraps
// errors.ErrInvalidInput so callers can classify it.
package config

import (
	"errors"
	"fmt"
	"strings"

	errorskg "github.com/stallwart/switchboard/errors"
)

// Validator accumulates problems across a set of checks. Methods chain;
// Err reports everything found at once.
type Validator struct {
	problems []error
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) fail(field, format string, args ...any) {
	v.problems = append(v.problems, fmt.Errorf("%s %s", field, fmt.Sprintf(format, args...)))
}

// RequireNonEmpty checks that the value is not blank.
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.fail(field, "must not be empty")
	}
	return v
}

// RequireRange checks that value lies in [lo, hi].
func (v *Validator) RequireRange(field string, value, lo, hi int) *Validator {
	if value < lo || value > hi {
		v.fail(field, "must be between %d and %d, got %d", lo, hi, value)
	}
	return v
}

// RequirePort checks for a usable TCP port.
func (v *Validator) RequirePort(field string, port int) *Validator {
	return v.RequireRange(field, port, 1, 65535)
}

// RequireDBNumber checks for a valid Redis database number.
func (v *Validator) RequireDBNumber(field string, db int) *Validator {
	return v.RequireRange(field, db, 0, 15)
}

// RequireOneOf checks that the value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	v.fail(field, "must be one of %v, got %q", allowed, value)
	return v
}

// Err returns nil when every check passed, otherwise a single error
// joining all problems and matching errors.ErrInvalidInput.
func (v *Validator) Err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errorskg.ErrInvalidInput, errors.Join(v.problems...))
}

// ValidatePostgresConfig checks PostgreSQL connection settings.
func ValidatePostgresConfig(host string, port int, user, password, dbName, sslMode string) error {
	return NewValidator().
		RequireNonEmpty("host", host).
		RequirePort("port", port).
		RequireNonEmpty("user", user).
		RequireNonEmpty("password", password).
		RequireNonEmpty("dbName", dbName).
		RequireOneOf("sslMode", sslMode, "disable", "require", "verify-ca", "verify-full").
		Err()
}

// ValidateRedisConfig checks Redis connection settings.
func ValidateRedisConfig(addr string, db int, prefix string) error {
	return NewValidator().
		RequireNonEmpty("addr", addr).
		RequireDBNumber("db", db).
		RequireNonEmpty("prefix", prefix).
		Err()
}

// ValidateMongoDBConfig checks MongoDB connection settings.
func ValidateMongoDBConfig(uri, database, collection string) error {
	return NewValidator().
		RequireNonEmpty("uri", uri).
		RequireNonEmpty("database", database).
		RequireNonEmpty("collection", collection).
		Err()
}
