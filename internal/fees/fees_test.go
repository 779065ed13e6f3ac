package fees

import "testing"

func TestComputeHundredDollarCharge(t *testing.T) {
	got := Compute(10000)
	want := Breakdown{PlatformCents: 100, ProcessorCents: 320, CombinedCents: 420, NetCents: 9580}
	if got != want {
		t.Fatalf("Compute(10000) = %+v, want %+v", got, want)
	}
}

func TestComputeRoundsHalfUp(t *testing.T) {
	// 1% of 2050 is 20.5 cents, which rounds up to 21.
	if got := Compute(2050).PlatformCents; got != 21 {
		t.Fatalf("platform fee on 2050 = %d, want 21", got)
	}
	// 2.9% of 1050 is 30.45, rounds down to 30, plus the 30 cent fixed fee.
	if got := Compute(1050).ProcessorCents; got != 60 {
		t.Fatalf("processor fee on 1050 = %d, want 60", got)
	}
}

func TestComputeSumsAreConsistent(t *testing.T) {
	for _, amount := range []int64{0, 1, 99, 100, 2550, 10000, 123456} {
		b := Compute(amount)
		if b.CombinedCents != b.PlatformCents+b.ProcessorCents {
			t.Fatalf("combined mismatch at %d: %+v", amount, b)
		}
		if b.NetCents+b.CombinedCents != amount {
			t.Fatalf("net mismatch at %d: %+v", amount, b)
		}
	}
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{9580, "95.80"},
		{5, "0.05"},
		{0, "0.00"},
		{-1234, "-12.34"},
	}
	for _, tc := range cases {
		if got := FormatCents(tc.cents); got != tc.want {
			t.Fatalf("FormatCents(%d) = %q, want %q", tc.cents, got, tc.want)
		}
	}
}
