package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness or assignment collision.
var ErrConflict = errors.New("repository: conflict")

// ErrInvalidArgument indicates the store rejected the input.
var ErrInvalidArgument = errors.New("repository: invalid argument")
