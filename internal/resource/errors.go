package resource

import "errors"

var (
	ErrNotOwned  = errors.New("resource: block not owned by this cache")
	ErrNilLoader = errors.New("resource: nil loader")
)
