package main

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var usd = message.NewPrinter(language.AmericanEnglish)

// formatUSD renders a quote-currency amount with grouped thousands.
func formatUSD(amount float64) string {
	return usd.Sprintf("$%.2f", amount)
}

// walletView is the state the panel renders. Nil fields show as
// placeholders until the first update arrives.
type walletView struct {
	currency string
	price    *float64
	balance  *float64
}

// render redraws the four-line panel in place by moving the cursor back up
// after writing.
func (v walletView) render(w io.Writer) {
	price, balance, value := "...", "...", "..."
	if v.price != nil {
		price = formatUSD(*v.price)
	}
	if v.balance != nil {
		balance = fmt.Sprintf("%v", *v.balance)
	}
	if v.price != nil && v.balance != nil {
		value = formatUSD(*v.balance * *v.price)
	}

	fmt.Fprintf(w, "Wallet:  %s\n", strings.ToUpper(v.currency))
	fmt.Fprintf(w, "Price:   %s\n", price)
	fmt.Fprintf(w, "Balance: %s\n", balance)
	fmt.Fprintf(w, "Value:   %s\n", value)
	fmt.Fprint(w, "\033[4A")
}
