package indicator

import "math"

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Returns slice of length: len(prices) - period
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) <= period {
		return []float64{}
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		ch := prices[i] - prices[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	result := make([]float64, 0, len(prices)-period)
	result = append(result, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		ch := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		result = append(result, rsiValue(avgGain, avgLoss))
	}
	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StdDev is the rolling population standard deviation.
// Returns slice of length: len(prices) - period + 1
func StdDev(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}
	means := SMA(prices, period)
	result := make([]float64, len(means))
	for i, mean := range means {
		var sq float64
		for _, p := range prices[i : i+period] {
			sq += (p - mean) * (p - mean)
		}
		result[i] = math.Sqrt(sq / float64(period))
	}
	return result
}

// Bands holds Bollinger band values aligned with the SMA output.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger calculates Bollinger bands at k standard deviations.
func Bollinger(prices []float64, period int, k float64) Bands {
	mid := SMA(prices, period)
	sd := StdDev(prices, period)
	b := Bands{
		Upper:  make([]float64, len(mid)),
		Middle: mid,
		Lower:  make([]float64, len(mid)),
	}
	for i := range mid {
		b.Upper[i] = mid[i] + k*sd[i]
		b.Lower[i] = mid[i] - k*sd[i]
	}
	return b
}

// Highest returns the maximum of the last period values.
func Highest(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	start := max(0, len(prices)-period)
	h := prices[start]
	for _, p := range prices[start+1:] {
		h = math.Max(h, p)
	}
	return h
}

// Lowest returns the minimum of the last period values.
func Lowest(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	start := max(0, len(prices)-period)
	l := prices[start]
	for _, p := range prices[start+1:] {
		l = math.Min(l, p)
	}
	return l
}
