package main

import (
	"strings"
	"testing"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{30000.5, "$30,000.50"},
		{1850.25, "$1,850.25"},
		{0, "$0.00"},
		{0.009, "$0.01"},
	}

	for _, tt := range tests {
		if got := formatUSD(tt.amount); got != tt.want {
			t.Errorf("formatUSD(%v) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestRenderPlaceholders(t *testing.T) {
	var buf strings.Builder
	walletView{currency: "eth"}.render(&buf)

	out := buf.String()
	for _, want := range []string{"Wallet:  ETH", "Price:   ...", "Balance: ...", "Value:   ..."} {
		if !strings.Contains(out, want) {
			t.Errorf("panel missing %q:\n%s", want, out)
		}
	}
}

func TestRenderComputesValue(t *testing.T) {
	price, balance := 2000.0, 2.5
	var buf strings.Builder
	walletView{currency: "eth", price: &price, balance: &balance}.render(&buf)

	out := buf.String()
	for _, want := range []string{"Price:   $2,000.00", "Balance: 2.5", "Value:   $5,000.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("panel missing %q:\n%s", want, out)
		}
	}
}
