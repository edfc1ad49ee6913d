package clock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Unspecified is returned for empty, "N/A" or "null" literals.
	Unspecified = -1.0
	// Invalid is returned together with ErrInvalidTimeLiteral.
	Invalid = -2.0

	// AbsoluteMarker prefixes a literal that names an absolute end time
	// instead of a duration.
	AbsoluteMarker = "#"
)

// ParseTime parses "M:SS[.mmm]" into seconds. A leading AbsoluteMarker is
// accepted and ignored; use ParseBound to observe it.
func ParseTime(s string) (float64, error) {
	v, _, err := ParseBound(s)
	return v, err
}

// ParseBound parses a time literal and reports whether it carried the
// absolute marker.
func ParseBound(s string) (seconds float64, absolute bool, err error) {
	raw := strings.TrimSpace(s)
	if raw == "" || strings.EqualFold(raw, "N/A") || strings.EqualFold(raw, "null") {
		return Unspecified, false, nil
	}
	if strings.HasPrefix(raw, AbsoluteMarker) {
		absolute = true
		raw = strings.TrimSpace(raw[len(AbsoluteMarker):])
	}

	mins, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Invalid, absolute, fmt.Errorf("%w: %q", ErrInvalidTimeLiteral, s)
	}
	if mins == "" || !allDigits(mins) {
		return Invalid, absolute, fmt.Errorf("%w: %q: minutes", ErrInvalidTimeLiteral, s)
	}
	m, err := strconv.Atoi(mins)
	if err != nil {
		return Invalid, absolute, fmt.Errorf("%w: %q: minutes", ErrInvalidTimeLiteral, s)
	}

	secPart, frac, hasFrac := strings.Cut(rest, ".")
	if len(secPart) == 0 || len(secPart) > 2 || !allDigits(secPart) {
		return Invalid, absolute, fmt.Errorf("%w: %q: seconds", ErrInvalidTimeLiteral, s)
	}
	sec, _ := strconv.Atoi(secPart)

	fraction := 0.0
	if hasFrac {
		if frac == "" || !allDigits(frac) {
			return Invalid, absolute, fmt.Errorf("%w: %q: fraction", ErrInvalidTimeLiteral, s)
		}
		fraction, _ = strconv.ParseFloat("0."+frac, 64)
	}

	return float64(m)*60 + float64(sec) + fraction, absolute, nil
}

// FormatTime renders seconds as "M:SS.mmm". Negative values render as "N/A".
func FormatTime(seconds float64) string {
	if seconds < 0 {
		return "N/A"
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

// FormatAbsolute renders seconds as an absolute end literal, "#M:SS.mmm".
func FormatAbsolute(seconds float64) string {
	if seconds < 0 {
		return "N/A"
	}
	return AbsoluteMarker + FormatTime(seconds)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
