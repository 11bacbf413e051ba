// Package features turns the rolling price window and the latest sentiment score into a FeatureSnapshot.
package features

import (
	"math"

	"BotArena/internal/domain/models"
)

// Prices extracts the price column.
func Prices(points []models.PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

// ShortReturn is the simple return over the last n steps: p[-1]/p[-1-n] - 1.
// It returns false if there are not enough prices or the base price is not positive.
func ShortReturn(prices []float64, n int) (float64, bool) {
	if n < 1 || len(prices) < n+1 {
		return 0, false
	}
	base := prices[len(prices)-1-n]
	if base <= 0 {
		return 0, false
	}
	return prices[len(prices)-1]/base - 1, true
}

// RollingStats returns the mean and population standard deviation of the last window prices.
func RollingStats(prices []float64, window int) (mean, stddev float64, ok bool) {
	if window < 2 || len(prices) < window {
		return 0, 0, false
	}
	sum, sum2 := 0.0, 0.0
	for _, p := range prices[len(prices)-window:] {
		sum += p
		sum2 += p * p
	}
	n := float64(window)
	mean = sum / n
	variance := sum2/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance), true
}

// RSI is the simple-average relative strength index over the last period changes.
// A window with no losses scores 100.
func RSI(prices []float64, period int) (float64, bool) {
	if period < 1 || len(prices) < period+1 {
		return 0, false
	}
	gain, loss := 0.0, 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}
