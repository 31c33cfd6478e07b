package services

import "errors"

var (
	// ErrValidation: malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization: the actor's role does not permit the action.
	ErrAuthorization = errors.New("not authorized")
	// ErrCapacity: the session participant limit would be exceeded.
	ErrCapacity = errors.New("session at capacity")
	// ErrState: the operation is not valid in the session's current state.
	ErrState = errors.New("invalid session state")
	// ErrCompliance: encryption or consent not verified; the session is
	// forced to failed when this is raised.
	ErrCompliance = errors.New("compliance check failed")
	// ErrProvider: the media provider failed after retries were exhausted.
	ErrProvider = errors.New("media provider error")

	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
)
