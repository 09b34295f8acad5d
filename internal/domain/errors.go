package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrDestroyed = errors.New("instance destroyed")
