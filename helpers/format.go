package helpers

import (
	"fmt"
	"math"
	"strings"
)

// NotAvailable is shown in place of a missing value
const NotAvailable = "N/A"

// FormatUSD formats a number as US dollars with thousand separators and two decimals
func FormatUSD(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return NotAvailable
	}

	negative := amount < 0
	if negative {
		amount = -amount
	}

	cents := int64(math.Round(amount * 100))
	result := "$" + groupThousands(cents/100) + fmt.Sprintf(".%02d", cents%100)
	if negative {
		return "-" + result
	}
	return result
}

// FormatVolume formats a share count with comma thousand separators
func FormatVolume(volume int64) string {
	if volume < 0 {
		return "-" + groupThousands(-volume)
	}
	return groupThousands(volume)
}

// FormatOptionalUSD formats amount when ok, otherwise returns N/A
func FormatOptionalUSD(amount float64, ok bool) string {
	if !ok {
		return NotAvailable
	}
	return FormatUSD(amount)
}

// FormatOptionalVolume formats volume when ok, otherwise returns N/A
func FormatOptionalVolume(volume float64, ok bool) string {
	if !ok || math.IsNaN(volume) || math.IsInf(volume, 0) {
		return NotAvailable
	}
	return FormatVolume(int64(math.Round(volume)))
}

func groupThousands(value int64) string {
	str := fmt.Sprintf("%d", value)
	length := len(str)
	if length <= 3 {
		return str
	}

	var b strings.Builder
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	return b.String()
}
