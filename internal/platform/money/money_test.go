package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinor(t *testing.T) {
	brl := MustCurrency("brl")
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{in: "10", want: 1000},
		{in: "10.5", want: 1050},
		{in: "0.01", want: 1},
		{in: "0", want: 0},
		{in: "1.005", err: true},
		{in: "-1", err: true},
	}
	for _, tc := range tests {
		got, err := brl.ParseMinor(tc.in)
		if tc.err {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("%s: expected ErrInvalidAmount, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestToMinorRounded(t *testing.T) {
	brl := MustCurrency("BRL")
	tests := []struct {
		in   string
		want int64
	}{
		{in: "12.500000000000002", want: 1250},
		{in: "1.005", want: 101},
		{in: "9.994", want: 999},
		{in: "3", want: 300},
	}
	for _, tc := range tests {
		got, err := brl.ToMinorRounded(decimal.RequireFromString(tc.in))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, got)
		}
	}
	if _, err := brl.ToMinorRounded(decimal.RequireFromString("-0.5")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative amount to be rejected, got %v", err)
	}
}

func TestZeroDecimalCurrency(t *testing.T) {
	jpy := MustCurrency("JPY")
	if jpy.Scale() != 0 {
		t.Fatalf("expected JPY scale 0, got %d", jpy.Scale())
	}
	got, err := jpy.ToMinor(decimal.NewFromInt(1500))
	if err != nil || got != 1500 {
		t.Fatalf("expected 1500, got %d err=%v", got, err)
	}
}

func TestFormatAndUnknownCurrency(t *testing.T) {
	if got := MustCurrency("BRL").Format(3050); got != "BRL 30.50" {
		t.Fatalf("unexpected format %q", got)
	}
	if _, err := ParseCurrency("XYZW"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
}
