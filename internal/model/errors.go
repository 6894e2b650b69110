package model

import "errors"

var (
	// Identity related errors
	ErrNotFound           = errors.New("not found")
	ErrIdentityExists     = errors.New("identity already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token related errors
	ErrUnauthorized = errors.New("unauthorized")

	// Storage related errors
	ErrPersistence = errors.New("persistence error")
	ErrConflict    = errors.New("concurrent modification")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
