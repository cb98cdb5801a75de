// Package main implements the notification hub. It serves WebSocket clients,
// bridges them to the message bus (lookup tasks out, price and balance
// updates in), and fans inbound bus events out to subscribed connections.
package main

import (
	"github.com/google/uuid"

	"github.com/coinwatch/wallet-stream/stream"
)

// Wallet is the subscription a connection holds: one address and the
// currency family derived from it.
type Wallet struct {
	Address  string
	Currency string
}

// Registry tracks live connections and which wallet each one subscribed to.
// It carries no lock of its own; the Hub serializes all access together
// with the caches so registry and cache state never diverge mid-event.
type Registry struct {
	clients map[string]*Client // connection id -> client
	wallets map[string]Wallet  // connection id -> subscription
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		wallets: make(map[string]Wallet),
	}
}

// Register assigns the client a fresh id unique for the process lifetime
// and starts tracking it.
func (r *Registry) Register(c *Client) string {
	id := uuid.New().String()
	c.id = id
	r.clients[id] = c
	return id
}

// Unregister drops the connection and its subscription. Calling it for an
// id that is already gone is a no-op.
func (r *Registry) Unregister(id string) {
	delete(r.clients, id)
	delete(r.wallets, id)
}

// SetSubscription binds the connection to a wallet, replacing any previous
// binding. It reports false when the connection is unknown, which happens
// when a message arrives after the connection was torn down; that is not an
// error, just late delivery.
func (r *Registry) SetSubscription(id, address string) bool {
	if _, ok := r.clients[id]; !ok {
		return false
	}
	r.wallets[id] = Wallet{
		Address:  address,
		Currency: stream.DeriveCurrency(address),
	}
	return true
}

// Subscription returns the wallet the connection is bound to, if any.
func (r *Registry) Subscription(id string) (Wallet, bool) {
	w, ok := r.wallets[id]
	return w, ok
}

// SubscribersOf scans all subscriptions and returns the clients whose
// wallet matches. The scan is recomputed fresh on every call; connection
// counts are small enough that a linear pass beats maintaining an index.
func (r *Registry) SubscribersOf(match func(Wallet) bool) []*Client {
	var out []*Client
	for id, w := range r.wallets {
		if !match(w) {
			continue
		}
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.clients)
}
