package domain

import "errors"

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrExpired       = errors.New("expired")
	ErrConfiguration = errors.New("configuration error")
	ErrRateLimited   = errors.New("rate limit exceeded")
)
