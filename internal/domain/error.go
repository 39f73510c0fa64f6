package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrOperationFailed   = errors.New("operation failed")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrPreflightFailed   = errors.New("preflight check failed")
	ErrUnsupported       = errors.New("operation not supported by platform")
	ErrRateLimited       = errors.New("platform request budget exhausted")
	ErrPollTimeout       = errors.New("remote job did not finish in time")
	ErrInvalidTransition = errors.New("invalid channel status transition")
)
