// Package chain provides amount conversion between fiat minor units and raw
// on-chain token units.
package chain

import (
	"errors"
	"fmt"
)

// Token decimal counts for the supported providers.
const (
	USDCDecimals = 6
	SOLDecimals  = 9
)

// CurrencyDecimals is the minor-unit precision of supported fiat currencies.
// All supported currencies use two decimal places.
const CurrencyDecimals = 2

// ErrAmountPrecision is returned when a minor-unit amount cannot be converted
// to raw units without loss.
var ErrAmountPrecision = errors.New("amount cannot be represented exactly in token units")

// RawUnits converts an amount in currency minor units to raw on-chain token
// units at full integer precision. No tolerance banding: 500 minor units of a
// 2-decimal currency against a 6-decimal token is exactly 5_000_000 raw units.
func RawUnits(minorUnits int64, tokenDecimals int) (uint64, error) {
	if minorUnits < 0 {
		return 0, fmt.Errorf("negative amount %d", minorUnits)
	}
	shift := tokenDecimals - CurrencyDecimals
	if shift < 0 {
		return 0, ErrAmountPrecision
	}
	raw := uint64(minorUnits)
	for i := 0; i < shift; i++ {
		next := raw * 10
		if next/10 != raw {
			return 0, fmt.Errorf("amount %d overflows token units", minorUnits)
		}
		raw = next
	}
	return raw, nil
}

// TokenDecimalsFor returns the raw-unit precision of a provider's asset.
func TokenDecimalsFor(provider string) (int, error) {
	switch provider {
	case "solana-usdc":
		return USDCDecimals, nil
	case "solana-sol":
		return SOLDecimals, nil
	default:
		return 0, ErrUnsupportedProvider
	}
}
