package clock

import "errors"

var ErrInvalidTimeLiteral = errors.New("invalid time literal")
