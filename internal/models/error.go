package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound    = errors.New("account not found")
	ErrConflict    = errors.New("account already exists")
	ErrForbidden   = errors.New("forbidden")
	ErrPersistence = errors.New("changes could not be saved")

	// Validation errors
	ErrUsernameTaken    = errors.New("username taken")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrPasswordMismatch = errors.New("passwords do not match")

	// Credential and challenge errors
	ErrInvalidCredentials  = errors.New("wrong username or password")
	ErrVerificationNotSent = errors.New("could not send verification")
	ErrCodeNotSent         = errors.New("could not send code")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrTooManyAttempts     = errors.New("too many attempts")
	ErrNoEmail             = errors.New("cannot reset without email")
	ErrInvalidRecoveryCode = errors.New("wrong recovery code")
)
