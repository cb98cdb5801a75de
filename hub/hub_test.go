package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/coinwatch/wallet-stream/stream"
)

// capturePublisher records published tasks instead of touching a broker.
type capturePublisher struct {
	mu    sync.Mutex
	tasks []stream.BalanceTask
}

func (p *capturePublisher) PublishTask(_ context.Context, task stream.BalanceTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *capturePublisher) published() []stream.BalanceTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stream.BalanceTask(nil), p.tasks...)
}

func newTestHub() (*Hub, *capturePublisher) {
	tasks := &capturePublisher{}
	return NewHub(tasks), tasks
}

func clientFrame(t *testing.T, msgType string, data interface{}) []byte {
	t.Helper()
	frame, err := stream.Encode(msgType, data)
	if err != nil {
		t.Fatalf("encode %s frame: %v", msgType, err)
	}
	return frame
}

// recvFrame pops the next queued frame for the client. Sends are
// synchronous up to the channel buffer, so no waiting is involved.
func recvFrame(t *testing.T, c *Client) stream.Message {
	t.Helper()
	select {
	case frame := <-c.send:
		var msg stream.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decode frame %s: %v", frame, err)
		}
		return msg
	default:
		t.Fatal("expected a queued frame, got none")
		return stream.Message{}
	}
}

func wantNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("expected no frame, got %s", frame)
	default:
	}
}

func setupWallet(t *testing.T, h *Hub, c *Client, address string) {
	t.Helper()
	if err := h.HandleClientMessage(context.Background(), c, clientFrame(t, stream.EventSetupWallet, address)); err != nil {
		t.Fatalf("setup-wallet %s: %v", address, err)
	}
}

func TestSetupWalletUncachedPublishesOneTask(t *testing.T) {
	h, tasks := newTestHub()
	c := h.Register(nil)

	setupWallet(t, h, c, "0xabc")

	published := tasks.published()
	if len(published) != 1 {
		t.Fatalf("published %d tasks, want 1", len(published))
	}
	want := stream.BalanceTask{Address: "0xabc", Currency: "eth"}
	if published[0] != want {
		t.Errorf("task = %+v, want %+v", published[0], want)
	}
	// Nothing is known yet, so nothing goes back to the client.
	wantNoFrame(t, c)
}

func TestSetupWalletCachedBalanceSkipsTask(t *testing.T) {
	h, tasks := newTestHub()

	// First subscriber triggers the lookup; the bus answers.
	c1 := h.Register(nil)
	setupWallet(t, h, c1, "0xabc")
	h.HandleBalanceEvent("0xabc", 2.5)
	recvFrame(t, c1)

	// Second subscriber is served straight from the cache.
	c2 := h.Register(nil)
	setupWallet(t, h, c2, "0xabc")

	if got := len(tasks.published()); got != 1 {
		t.Fatalf("published %d tasks, want 1 (cached value must suppress the second)", got)
	}

	msg := recvFrame(t, c2)
	if msg.Type != stream.EventBalanceUpdated {
		t.Fatalf("type = %q, want %q", msg.Type, stream.EventBalanceUpdated)
	}
	var update stream.BalanceUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if update.Balance != 2.5 {
		t.Errorf("balance = %v, want 2.5", update.Balance)
	}
}

func TestSetupWalletCachedZeroBalanceIsAHit(t *testing.T) {
	h, tasks := newTestHub()
	h.HandleBalanceEvent("0xempty", 0)

	c := h.Register(nil)
	setupWallet(t, h, c, "0xempty")

	if got := len(tasks.published()); got != 0 {
		t.Fatalf("published %d tasks, want 0: zero is a cached value, not absence", got)
	}
	if msg := recvFrame(t, c); msg.Type != stream.EventBalanceUpdated {
		t.Errorf("type = %q, want %q", msg.Type, stream.EventBalanceUpdated)
	}
}

func TestSetupWalletServesCachedPrice(t *testing.T) {
	h, _ := newTestHub()
	h.HandlePriceEvent("eth", 1800)

	c := h.Register(nil)
	setupWallet(t, h, c, "0xabc")

	msg := recvFrame(t, c)
	if msg.Type != stream.EventPriceUpdated {
		t.Fatalf("type = %q, want %q", msg.Type, stream.EventPriceUpdated)
	}
	var tick stream.PriceUpdate
	if err := json.Unmarshal(msg.Data, &tick); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if tick.Currency != "eth" || tick.Price != 1800 {
		t.Errorf("payload = %+v", tick)
	}
}

func TestBalanceEventFansOutToMatchingAddressesOnly(t *testing.T) {
	h, _ := newTestHub()

	match1 := h.Register(nil)
	match2 := h.Register(nil)
	otherAddr := h.Register(nil)
	noSub := h.Register(nil)
	setupWallet(t, h, match1, "0xabc")
	setupWallet(t, h, match2, "0xabc")
	setupWallet(t, h, otherAddr, "0xdef")

	h.HandleBalanceEvent("0xabc", 2.5)

	for _, c := range []*Client{match1, match2} {
		if msg := recvFrame(t, c); msg.Type != stream.EventBalanceUpdated {
			t.Errorf("type = %q, want %q", msg.Type, stream.EventBalanceUpdated)
		}
	}
	// otherAddr published a task on subscribe but must not get this balance.
	wantNoFrame(t, otherAddr)
	wantNoFrame(t, noSub)
}

func TestPriceEventFansOutByCurrencyRegardlessOfAddress(t *testing.T) {
	h, _ := newTestHub()

	eth1 := h.Register(nil)
	eth2 := h.Register(nil)
	btc := h.Register(nil)
	setupWallet(t, h, eth1, "0xabc")
	setupWallet(t, h, eth2, "0xdef")
	setupWallet(t, h, btc, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")

	h.HandlePriceEvent("eth", 1800)

	for _, c := range []*Client{eth1, eth2} {
		if msg := recvFrame(t, c); msg.Type != stream.EventPriceUpdated {
			t.Errorf("type = %q, want %q", msg.Type, stream.EventPriceUpdated)
		}
	}
	wantNoFrame(t, btc)
}

func TestPriceEventWithNoSubscribersStillCaches(t *testing.T) {
	h, _ := newTestHub()

	h.HandlePriceEvent("btc", 30000)

	// A later subscriber sees the cached tick immediately.
	c := h.Register(nil)
	setupWallet(t, h, c, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")
	if msg := recvFrame(t, c); msg.Type != stream.EventPriceUpdated {
		t.Errorf("type = %q, want %q", msg.Type, stream.EventPriceUpdated)
	}
}

func TestUnregisteredConnectionGetsNothing(t *testing.T) {
	h, _ := newTestHub()

	c := h.Register(nil)
	setupWallet(t, h, c, "0xabc")
	h.Unregister(c)
	h.Unregister(c) // idempotent

	h.HandleBalanceEvent("0xabc", 2.5)
	h.HandlePriceEvent("eth", 1800)

	// The send channel is closed on unregister; any late frame would have
	// panicked inside Send. Also verify nothing was queued before close.
	if frame, ok := <-c.send; ok {
		t.Fatalf("received frame after unregister: %s", frame)
	}
}

func TestReplacingSubscriptionDiscardsOldOne(t *testing.T) {
	h, _ := newTestHub()

	c := h.Register(nil)
	setupWallet(t, h, c, "0xold")
	setupWallet(t, h, c, "0xnew")

	h.HandleBalanceEvent("0xold", 1.0)
	wantNoFrame(t, c)

	h.HandleBalanceEvent("0xnew", 2.0)
	if msg := recvFrame(t, c); msg.Type != stream.EventBalanceUpdated {
		t.Errorf("type = %q, want %q", msg.Type, stream.EventBalanceUpdated)
	}
}

func TestReadBalanceAlwaysPublishes(t *testing.T) {
	h, tasks := newTestHub()

	// Warm the cache first so the subscribe itself publishes nothing.
	h.HandleBalanceEvent("0xabc", 2.5)
	c := h.Register(nil)
	setupWallet(t, h, c, "0xabc")
	recvFrame(t, c)

	// Explicit refreshes bypass the cache, one task per request.
	refresh := clientFrame(t, stream.EventReadBalance, nil)
	for i := 0; i < 3; i++ {
		if err := h.HandleClientMessage(context.Background(), c, refresh); err != nil {
			t.Fatalf("read-balance: %v", err)
		}
	}

	if got := len(tasks.published()); got != 3 {
		t.Errorf("published %d tasks, want 3 (cached value suppressed the subscribe, 3 refreshes)", got)
	}
}

func TestReadBalanceWithoutSubscriptionIsIgnored(t *testing.T) {
	h, tasks := newTestHub()
	c := h.Register(nil)

	if err := h.HandleClientMessage(context.Background(), c, clientFrame(t, stream.EventReadBalance, nil)); err != nil {
		t.Fatalf("read-balance: %v", err)
	}
	if got := len(tasks.published()); got != 0 {
		t.Errorf("published %d tasks, want 0", got)
	}
}

func TestMalformedMessagesFailInIsolation(t *testing.T) {
	h, _ := newTestHub()
	c := h.Register(nil)

	malformed := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"setup-wallet","data":42}`),
		[]byte(`{"type":"setup-wallet","data":""}`),
		[]byte(`{"type":"mystery","data":null}`),
	}
	for _, payload := range malformed {
		if err := h.HandleClientMessage(context.Background(), c, payload); err == nil {
			t.Errorf("payload %s: expected an error", payload)
		}
	}

	// The connection survives and still works.
	setupWallet(t, h, c, "0xabc")
	h.HandleBalanceEvent("0xabc", 2.5)
	if msg := recvFrame(t, c); msg.Type != stream.EventBalanceUpdated {
		t.Errorf("connection unusable after malformed messages")
	}
}

// Full walkthrough: subscribe with cold caches, bus answers, a second
// connection arrives warm.
func TestSubscribeLookupThenCachedScenario(t *testing.T) {
	h, tasks := newTestHub()

	c1 := h.Register(nil)
	setupWallet(t, h, c1, "0xabc")

	published := tasks.published()
	if len(published) != 1 || published[0] != (stream.BalanceTask{Address: "0xabc", Currency: "eth"}) {
		t.Fatalf("tasks after cold subscribe = %+v", published)
	}
	wantNoFrame(t, c1)

	h.HandleBalanceEvent("0xabc", 2.5)
	msg := recvFrame(t, c1)
	var update stream.BalanceUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Type != stream.EventBalanceUpdated || update.Balance != 2.5 {
		t.Fatalf("got %q %+v, want balance-updated 2.5", msg.Type, update)
	}

	c2 := h.Register(nil)
	setupWallet(t, h, c2, "0xabc")
	msg = recvFrame(t, c2)
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Type != stream.EventBalanceUpdated || update.Balance != 2.5 {
		t.Fatalf("warm subscribe got %q %+v", msg.Type, update)
	}
	if got := len(tasks.published()); got != 1 {
		t.Errorf("published %d tasks, want 1", got)
	}
}
