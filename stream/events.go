// Package stream defines the contracts shared by every service in the
// pipeline: the WebSocket message frames exchanged with clients, the Kafka
// topics and payloads carrying tasks and updates, and the consumer-group
// naming that selects between load-balanced and broadcast delivery.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WebSocket message types.
const (
	// Client to hub.
	EventSetupWallet = "setup-wallet"
	EventReadBalance = "read-balance"

	// Hub to client.
	EventBalanceUpdated = "balance-updated"
	EventPriceUpdated   = "price-updated"
)

// Kafka topics.
const (
	TopicBalanceTasks  = "task-to-read-balance"
	TopicWalletBalance = "wallet-balance"
	TopicCurrencyPrice = "currency-price"
)

// BalanceWorkerGroup is shared by every balance worker instance so the bus
// load-balances lookup tasks across them, each task handled exactly once.
const BalanceWorkerGroup = "balance-crawler"

// NewHubGroup returns a consumer group id unique to this process. Every hub
// instance consumes price and balance topics under its own group, so all
// instances receive all events instead of competing for a share of them.
func NewHubGroup(kind string) string {
	return fmt.Sprintf("hub-%s-%s", kind, uuid.New().String())
}

// Message is the JSON frame exchanged over a WebSocket connection:
// {"type": <string>, "data": <payload|null>}.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode builds a wire-ready frame for the given message type. A nil
// payload encodes as "data": null.
func Encode(msgType string, data interface{}) ([]byte, error) {
	frame := struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{Type: msgType, Data: data}
	return json.Marshal(frame)
}

// BalanceTask asks a worker to look up a wallet balance. Published to
// TopicBalanceTasks keyed by address.
type BalanceTask struct {
	Address  string `json:"address"`
	Currency string `json:"currency"`
}

// BalanceUpdate carries a freshly looked-up balance in native units.
// Published to TopicWalletBalance keyed by address, and delivered to
// clients as the data of a balance-updated frame.
type BalanceUpdate struct {
	Balance float64 `json:"balance"`
}

// PriceUpdate carries a normalized market price tick. Published to
// TopicCurrencyPrice keyed by currency, and delivered to clients as the
// data of a price-updated frame.
type PriceUpdate struct {
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}
