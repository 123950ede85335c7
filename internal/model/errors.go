package model

import "errors"

// Common errors used across the application
var (
	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already registered")

	// Room errors
	ErrRoomNotFound = errors.New("room not found")
	ErrForbidden    = errors.New("action not permitted for this user")
	ErrInvalidState = errors.New("room is not in a valid state for this action")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("concurrent update conflict")

	// Event errors
	ErrUnknownEvent = errors.New("unknown event type")
)
