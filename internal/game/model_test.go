package game

import (
	"errors"
	"testing"

	"tycoon/internal/market"
	"tycoon/internal/num"
)

func TestValidateAssetID(t *testing.T) {
	valid := []string{"COBOLT", "NIMBUS", "BITCRN", "AB", "X2Y3Z4W5Q6"}
	for _, s := range valid {
		if err := ValidateAssetID(s); err != nil {
			t.Fatalf("expected asset id %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"", "A", "cobolt", "TOOLONGASSET", "A_BCD1", "ZZ Z"}
	for _, s := range invalid {
		if err := ValidateAssetID(s); err == nil {
			t.Fatalf("expected asset id %q to fail", s)
		}
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want market.Side
		err  bool
	}{
		{in: "buy", want: market.SideBuy},
		{in: " SELL ", want: market.SideSell},
		{in: "short", err: true},
		{in: "", err: true},
	}
	for _, tc := range tests {
		got, err := ParseSide(tc.in)
		if tc.err {
			if !errors.Is(err, ErrInvalidSide) {
				t.Fatalf("side=%q expected ErrInvalidSide, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("side=%q got=%q err=%v want=%q", tc.in, got, err, tc.want)
		}
	}
}

func TestOfflineTicks(t *testing.T) {
	tests := []struct {
		elapsed    int64
		efficiency string
		limit      int64
		want       int64
	}{
		{elapsed: 0, efficiency: "1", want: 0},
		{elapsed: -5, efficiency: "1", want: 0},
		{elapsed: 100, efficiency: "0", want: 0},
		{elapsed: 1000, efficiency: "0.5", want: 500},
		{elapsed: 999, efficiency: "0.5", want: 499},
		{elapsed: 1000, efficiency: "1", limit: 300, want: 300},
		{elapsed: 1000, efficiency: "2.5", want: 2500},
	}
	for _, tc := range tests {
		got := OfflineTicks(tc.elapsed, num.MustParse(tc.efficiency), tc.limit)
		if got != tc.want {
			t.Fatalf("elapsed=%d efficiency=%s limit=%d got=%d want=%d", tc.elapsed, tc.efficiency, tc.limit, got, tc.want)
		}
	}
}

func TestDecodeSnapshotRejectsVersion(t *testing.T) {
	raw, err := EncodeSnapshot(Snapshot{Version: SnapshotVersion + 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeSnapshot(raw); !errors.Is(err, ErrUnsupportedSnapshot) {
		t.Fatalf("expected ErrUnsupportedSnapshot, got %v", err)
	}
	if _, err := DecodeSnapshot([]byte("{")); err == nil {
		t.Fatalf("expected malformed payload to fail")
	}
}
