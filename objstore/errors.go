package objstore

import "github.com/pkg/errors"

var ErrNotFound = errors.New("objstore: object not found")
