package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes how long to wait before a retry attempt.
type Strategy interface {
	// Calculate returns the delay before retry number attempt (1-based).
	Calculate(attempt int, base, max time.Duration) time.Duration
}

// ConstantStrategy waits the same base duration before every retry. It is the
// default for both retry budgets: a refused or broken connection waits one
// time unit regardless of how many retries came before.
type ConstantStrategy struct{}

// Calculate implements Strategy.
func (ConstantStrategy) Calculate(attempt int, base, max time.Duration) time.Duration {
	if base < 0 {
		return 0
	}
	if max > 0 && base > max {
		return max
	}
	return base
}

// ExponentialJitterStrategy grows the delay by Multiplier on every attempt and
// adds up to Jitter (0..1) of uniform noise, capped at max.
type ExponentialJitterStrategy struct {
	Multiplier float64
	Jitter     float64
}

// Calculate implements Strategy.
func (s ExponentialJitterStrategy) Calculate(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	multiplier := s.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	backoff := time.Duration(float64(base) * pow(multiplier, attempt-1))
	if max > 0 && (backoff < 0 || backoff > max) {
		backoff = max
	}

	jitter := clampJitter(s.Jitter)
	if jitter > 0 {
		jitterAmount := time.Duration(float64(backoff) * jitter * rand.Float64())
		if max > 0 && backoff+jitterAmount > max {
			backoff = max
		} else {
			backoff += jitterAmount
		}
	}
	return backoff
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

// ByName resolves a strategy from its configuration name. Unknown names fall
// back to the constant strategy.
func ByName(name string) Strategy {
	switch name {
	case "exponential":
		return ExponentialJitterStrategy{Multiplier: 2.0, Jitter: 0.1}
	default:
		return ConstantStrategy{}
	}
}
