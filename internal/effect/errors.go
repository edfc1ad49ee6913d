package effect

import "errors"

var (
	ErrNotFound        = errors.New("effect not found")
	ErrNoScriptRuntime = errors.New("no script runtime configured")
)
