package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Micros
		wantErr bool
	}{
		{in: "12.50", want: 12_500_000},
		{in: "0.000001", want: 1},
		{in: "1", want: 1_000_000},
		{in: "0.005", want: 5_000},
		{in: "0.0000001", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestString(t *testing.T) {
	if got := Micros(12_500_000).String(); got != "12.5" {
		t.Fatalf("got %q", got)
	}
	if got := Micros(5_000).String(); got != "0.005" {
		t.Fatalf("got %q", got)
	}
}

func TestFromBigInt(t *testing.T) {
	got, err := FromBigInt(big.NewInt(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d", got)
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	if _, err := FromBigInt(huge); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestPlatformFee(t *testing.T) {
	// 5% of $100 plus the $1 convenience fee.
	winning := 100 * Dollar
	if got := PlatformFee(winning); got != 6*Dollar {
		t.Fatalf("fee = %s, want 6", got)
	}
	if got := SellerProceeds(winning); got != 94*Dollar {
		t.Fatalf("proceeds = %s, want 94", got)
	}
}
