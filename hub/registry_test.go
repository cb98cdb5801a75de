package main

import "testing"

func TestRegistrySetSubscriptionUnknownID(t *testing.T) {
	r := NewRegistry()

	if r.SetSubscription("no-such-connection", "0xabc") {
		t.Error("SetSubscription for unknown id must report false")
	}
	if got := r.SubscribersOf(func(Wallet) bool { return true }); len(got) != 0 {
		t.Errorf("unknown id produced %d subscribers", len(got))
	}
}

func TestRegistryDerivesCurrencyOnSubscribe(t *testing.T) {
	r := NewRegistry()
	c := &Client{send: make(chan []byte, 1)}
	id := r.Register(c)

	if !r.SetSubscription(id, "0xabc") {
		t.Fatal("SetSubscription failed for a registered connection")
	}
	w, ok := r.Subscription(id)
	if !ok || w.Currency != "eth" || w.Address != "0xabc" {
		t.Errorf("subscription = %+v, ok = %v", w, ok)
	}
}

func TestRegistryScanIsRecomputedEachCall(t *testing.T) {
	r := NewRegistry()
	c := &Client{send: make(chan []byte, 1)}
	id := r.Register(c)
	r.SetSubscription(id, "0xabc")

	isEth := func(w Wallet) bool { return w.Currency == "eth" }
	if got := r.SubscribersOf(isEth); len(got) != 1 {
		t.Fatalf("first scan found %d subscribers, want 1", len(got))
	}

	r.Unregister(id)
	r.Unregister(id) // idempotent

	if got := r.SubscribersOf(isEth); len(got) != 0 {
		t.Errorf("scan after unregister found %d subscribers, want 0", len(got))
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after unregister", r.Len())
	}
}
