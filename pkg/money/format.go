// Package money formats minor-unit amounts for humans.
package money

import (
	"fmt"
	"strings"
)

// Format renders cents as "55.00 USD". The currency is omitted when empty.
func Format(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	out := fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency != "" {
		out += " " + currency
	}
	return out
}
