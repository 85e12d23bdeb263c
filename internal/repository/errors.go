package repository

import "errors"

// ErrNotFound indicates an entity was not located, or is not visible to the caller's tenant.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates a request referenced inconsistent or malformed data.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrInvalidState indicates a conditional write found the row in an unexpected state.
var ErrInvalidState = errors.New("repository: invalid state")
