// Package fees computes the platform's take on a transaction. All amounts
// are integer minor units (cents); decimals exist only at the API boundary.
package fees

import "fmt"

const (
	// Platform keeps 1% of the service price.
	platformRateBasisPoints = 100
	// Card processor charges 2.9% + 30 cents.
	processorRateBasisPoints = 290
	processorFixedCents      = 30
)

// Breakdown is the fee split for a single charge.
type Breakdown struct {
	PlatformCents  int64
	ProcessorCents int64
	CombinedCents  int64
	NetCents       int64
}

// Compute splits amountCents into platform fee, processor fee, and the
// provider's net payout. Rounding is half-up at each fee line.
func Compute(amountCents int64) Breakdown {
	platform := roundBasisPoints(amountCents, platformRateBasisPoints)
	processor := roundBasisPoints(amountCents, processorRateBasisPoints) + processorFixedCents
	combined := platform + processor
	return Breakdown{
		PlatformCents:  platform,
		ProcessorCents: processor,
		CombinedCents:  combined,
		NetCents:       amountCents - combined,
	}
}

// roundBasisPoints computes amount*bps/10000 with half-up rounding, staying
// in integer arithmetic the whole way.
func roundBasisPoints(amountCents, bps int64) int64 {
	return (amountCents*bps + 5000) / 10000
}

// FormatCents renders cents as a decimal string for display ("95.80").
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
