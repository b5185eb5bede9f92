package models

import (
	"fmt"
	"math"
)

// Money formats an amount the way the mobile clients expect: a plain
// two-decimal string ("15.00").
func Money(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// RoundCents rounds to two decimal places, halves away from zero.
// Fares are non-negative, so this is round-half-up in practice.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// Cents converts an amount to integer cents for the payment gateway.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
