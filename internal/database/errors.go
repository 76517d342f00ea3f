package database

import "errors"

// ErrIdentityNotFound is returned by writes that reference an unknown identity.
var ErrIdentityNotFound = errors.New("identity not found")
