// Package primes implements the primality oracle and range counting used by
// chunk workers.
package primes

import (
	"context"
	"math/bits"
)

// checkInterval is how many candidates are examined between context checks.
const checkInterval = 4096

// IsPrime reports whether n is prime using trial division by odd divisors
// up to isqrt(n).
func IsPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n < 4 {
		return true
	}
	if n%2 == 0 {
		return false
	}
	limit := isqrt(n)
	for d := uint64(3); d <= limit; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// isqrt returns floor(sqrt(n)).
func isqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}
	// Initial guess 2^ceil(bits/2) is always >= sqrt(n).
	x := uint64(1) << ((bits.Len64(n) + 1) / 2)
	for {
		y := (x + n/x) / 2
		if y >= x {
			return x
		}
		x = y
	}
}

// CountRange counts primes in the inclusive range [start, end]. It returns
// ctx.Err() if the context is canceled before the count completes.
func CountRange(ctx context.Context, start, end uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if start > end {
		return 0, nil
	}
	var count uint64
	n := start
	if n <= 2 && end >= 2 {
		count++
		n = 3
	}
	if n%2 == 0 {
		n++
	}
	var examined int
	for n <= end {
		if IsPrime(n) {
			count++
		}
		examined++
		if examined%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return count, err
			}
		}
		if end-n < 2 {
			break
		}
		n += 2
	}
	return count, nil
}

// Count returns the number of primes in [1, n].
func Count(ctx context.Context, n uint64) (uint64, error) {
	return CountRange(ctx, 1, n)
}
