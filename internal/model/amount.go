package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("amount must be a positive number with at most two decimals")

// Cents is a USD amount in minor units.
type Cents int64

const maxCents = Cents(1_000_000_000_00)

// ParseAmount parses a decimal string such as "50", "50.5" or "12.34".
func ParseAmount(raw string) (Cents, error) {
	raw = strings.TrimSpace(raw)
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 2)) {
		return 0, ErrInvalidAmount
	}
	if len(whole) > 10 {
		return 0, ErrInvalidAmount
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	var f int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		if f, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return 0, ErrInvalidAmount
		}
	}
	c := Cents(w*100 + f)
	if c <= 0 || c > maxCents {
		return 0, ErrInvalidAmount
	}
	return c, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, int64(c)/100, int64(c)%100)
}

// MarshalJSON emits the amount as a decimal string, "50.00".
func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a decimal string or a JSON number in major units.
func (c *Cents) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		*c = 0
		return nil
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
