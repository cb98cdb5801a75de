package stream

import "strings"

// Supported currency families. A wallet address belongs to exactly one of
// them, derived from its format.
const (
	CurrencyBTC = "btc"
	CurrencyETH = "eth"
)

// Ethereum addresses always carry this prefix; everything else is treated
// as a Bitcoin address.
const ethAddressPrefix = "0x"

// DeriveCurrency classifies a wallet address into its currency family.
// The same rule is applied on the hub and on the client so both sides agree
// on which price stream a wallet belongs to.
func DeriveCurrency(address string) string {
	if strings.HasPrefix(address, ethAddressPrefix) {
		return CurrencyETH
	}
	return CurrencyBTC
}
