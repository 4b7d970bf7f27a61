package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor currency units (kopecks for RUB).
type Amount int64

// ParseAmount parses a decimal with at most two fractional digits, e.g. "99.9" or "100.00".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidRequest)
	}
	if strings.ContainsAny(s, "eE+") {
		return 0, fmt.Errorf("%w: amount %q must be a plain decimal", ErrInvalidRequest, s)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("%w: amount %q must have at most two decimal places", ErrInvalidRequest, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidRequest, s, err)
	}
	minor, err := strconv.ParseUint(frac, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidRequest, s, err)
	}
	if units < 0 || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("%w: amount %q must be positive", ErrInvalidRequest, s)
	}
	if units > (1<<63-1-99)/100 {
		return 0, fmt.Errorf("%w: amount %q is too large", ErrInvalidRequest, s)
	}
	return Amount(units*100 + int64(minor)), nil
}

// String formats the amount with exactly two decimals, as the provider expects.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Validate checks that the amount is positive
func (a Amount) Validate() error {
	if a <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: amount must be a number", ErrInvalidRequest)
		}
		text = n.String()
	}
	parsed, err := ParseAmount(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}
