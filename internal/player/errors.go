package player

import "errors"

var (
	ErrEffectNotFound = errors.New("effect not found")
	ErrInvalidWindow  = errors.New("scene start after end")
)
