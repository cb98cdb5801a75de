package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coinwatch/wallet-stream/stream"
)

// combinedFrame is one message from Binance's combined stream endpoint.
type combinedFrame struct {
	Stream string      `json:"stream"`
	Data   tickerEvent `json:"data"`
}

// tickerEvent is the slice of a Binance 24h ticker event the feed uses:
// the trading-pair symbol and the weighted average price.
type tickerEvent struct {
	Symbol      string `json:"s"`
	WeightedAvg string `json:"w"`
}

// normalizeTick converts a raw ticker event into the bus tick format:
// the pair symbol collapses to its bare base currency in lowercase and the
// quote becomes a number.
func normalizeTick(ev tickerEvent) (stream.PriceUpdate, error) {
	if len(ev.Symbol) < 3 {
		return stream.PriceUpdate{}, fmt.Errorf("symbol %q too short to carry a currency", ev.Symbol)
	}

	price, err := strconv.ParseFloat(ev.WeightedAvg, 64)
	if err != nil {
		return stream.PriceUpdate{}, fmt.Errorf("parse price %q for %s: %w", ev.WeightedAvg, ev.Symbol, err)
	}

	return stream.PriceUpdate{
		Currency: strings.ToLower(ev.Symbol[:3]),
		Price:    price,
	}, nil
}
