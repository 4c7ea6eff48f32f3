package errdefs

import "errors"

var (
	ErrAlreadyExists    = errors.New("already exists")
	ErrValidation       = errors.New("validation error")
	ErrAuthentication   = errors.New("authentication error")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	// ErrIntegrity reports an authentication-tag or size mismatch on unseal.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrDependency reports an unavailable collaborator such as the
	// encryption key or the scan backend.
	ErrDependency = errors.New("dependency unavailable")
)
