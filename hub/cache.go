package main

// Caches hold the last known balance per wallet address and price per
// currency. Entries are written only from bus events, never from the hub's
// own guesses, and they never expire: last write wins in topic arrival
// order, and absence of a balance is the signal to publish a lookup task.
//
// Presence is tracked explicitly so that a cached value of exactly zero is
// still a cache hit. Like the Registry, the Caches rely on the Hub for
// locking.
type Caches struct {
	balances map[string]float64 // address -> balance, native units
	prices   map[string]float64 // currency -> price, quote units
}

func NewCaches() *Caches {
	return &Caches{
		balances: make(map[string]float64),
		prices:   make(map[string]float64),
	}
}

func (c *Caches) Balance(address string) (float64, bool) {
	b, ok := c.balances[address]
	return b, ok
}

func (c *Caches) SetBalance(address string, balance float64) {
	c.balances[address] = balance
}

func (c *Caches) Price(currency string) (float64, bool) {
	p, ok := c.prices[currency]
	return p, ok
}

func (c *Caches) SetPrice(currency string, price float64) {
	c.prices[currency] = price
}
