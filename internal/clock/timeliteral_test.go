package clock

import (
	"errors"
	"math"
	"testing"
)

func TestParseTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		want     float64
		absolute bool
		wantErr  bool
	}{
		{in: "0:00", want: 0},
		{in: "1:30.5", want: 90.5},
		{in: "12:05.125", want: 725.125},
		{in: "#2:00", want: 120, absolute: true},
		{in: "N/A", want: Unspecified},
		{in: "", want: Unspecified},
		{in: "abc", want: Invalid, wantErr: true},
		{in: "1:123", want: Invalid, wantErr: true},
		{in: "1:30.", want: Invalid, wantErr: true},
		{in: "x:10", want: Invalid, wantErr: true},
		{in: "-0:05", want: Invalid, wantErr: true},
		{in: "+1:00", want: Invalid, wantErr: true},
		{in: ":05", want: Invalid, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, abs, err := ParseBound(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimeLiteral) {
					t.Fatalf("ParseBound(%q) err = %v, want ErrInvalidTimeLiteral", tt.in, err)
				}
			} else if err != nil {
				t.Fatalf("ParseBound(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseBound(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if abs != tt.absolute {
				t.Fatalf("absolute = %v, want %v", abs, tt.absolute)
			}
		})
	}
}

func TestTimeLiteralRoundTrip(t *testing.T) {
	t.Parallel()
	inputs := []string{"0:00", "0:01.001", "1:30.5", "9:59.999", "59:00.250", "123:45.678"}
	for _, in := range inputs {
		first, err := ParseTime(in)
		if err != nil {
			t.Fatalf("ParseTime(%q): %v", in, err)
		}
		second, err := ParseTime(FormatTime(first))
		if err != nil {
			t.Fatalf("ParseTime(FormatTime(%v)): %v", first, err)
		}
		if math.Abs(first-second) > 0.001 {
			t.Fatalf("round trip %q: %v -> %v", in, first, second)
		}
		abs, isAbs, err := ParseBound(FormatAbsolute(first))
		if err != nil || !isAbs || math.Abs(abs-first) > 0.001 {
			t.Fatalf("absolute round trip %q: %v %v %v", in, abs, isAbs, err)
		}
	}
}

func TestFormatTime(t *testing.T) {
	t.Parallel()
	if got := FormatTime(90.5); got != "1:30.500" {
		t.Fatalf("FormatTime = %q", got)
	}
	if got := FormatAbsolute(61.25); got != "#1:01.250" {
		t.Fatalf("FormatAbsolute = %q", got)
	}
	if got := FormatTime(Unspecified); got != "N/A" {
		t.Fatalf("FormatTime(-1) = %q", got)
	}
}
