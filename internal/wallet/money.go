package wallet

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatBaht renders a satang amount as a baht string with two decimals.
func FormatBaht(amount Satang) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s฿%d.%02d", sign, amount/100, amount%100)
}

// ParseBaht converts a decimal baht string such as "30", "30.5", or "-30.50"
// to satang.
func ParseBaht(raw string) (Satang, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		trimmed = trimmed[1:]
	}
	wholePart, fracPart, _ := strings.Cut(trimmed, ".")
	if wholePart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	// ParseUint keeps signs out of both components, so inputs like "30.-5"
	// or "--5" fail instead of parsing to a surprising value.
	var whole uint64
	var err error
	if wholePart != "" {
		whole, err = strconv.ParseUint(wholePart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
	}
	var frac uint64
	switch len(fracPart) {
	case 0:
	case 1:
		frac, err = strconv.ParseUint(fracPart, 10, 64)
		frac *= 10
	case 2:
		frac, err = strconv.ParseUint(fracPart, 10, 64)
	default:
		return 0, fmt.Errorf("%w: more than two decimal places in %q", ErrInvalidAmount, raw)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	amount := Satang(whole*100 + frac)
	if negative {
		amount = -amount
	}
	return amount, nil
}
