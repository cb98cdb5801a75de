package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"github.com/coinwatch/wallet-stream/stream"
)

// TaskPublisher publishes balance lookup tasks to the bus. Abstracted so
// the hub's dispatch logic can be exercised without a broker.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task stream.BalanceTask) error
}

// kafkaTaskPublisher writes tasks to the task topic keyed by address, so
// lookups for the same wallet stay ordered within one partition.
type kafkaTaskPublisher struct {
	writer *kafka.Writer
}

func newKafkaTaskPublisher(brokerAddr string) *kafkaTaskPublisher {
	return &kafkaTaskPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddr),
			Topic:        stream.TopicBalanceTasks,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *kafkaTaskPublisher) PublishTask(ctx context.Context, task stream.BalanceTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode balance task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Address),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *kafkaTaskPublisher) Close() error {
	return p.writer.Close()
}

// Hub owns the connection registry and the balance/price caches. One mutex
// guards the pair, preserving the single-writer semantics the design
// depends on: no event sees a registry that disagrees with the caches.
type Hub struct {
	mu       sync.Mutex
	registry *Registry
	caches   *Caches
	tasks    TaskPublisher
}

func NewHub(tasks TaskPublisher) *Hub {
	return &Hub{
		registry: NewRegistry(),
		caches:   NewCaches(),
		tasks:    tasks,
	}
}

// Register wraps the transport in a Client and starts tracking it.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	h.registry.Register(c)
	h.mu.Unlock()

	return c
}

// Unregister removes the connection and its subscription, then closes the
// client's send path. Deregistration happens under the hub lock, so no
// event processed afterwards can still see the connection. Idempotent.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.registry.Unregister(c.id)
	h.mu.Unlock()

	c.close()
}

// ClientCount returns the number of live connections, for health reporting.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Len()
}

// HandleClientMessage processes one inbound frame from a client. A
// malformed frame fails only this message: the error is returned for
// logging and the connection stays up.
func (h *Hub) HandleClientMessage(ctx context.Context, c *Client, payload []byte) error {
	atomic.AddInt64(&metrics.ClientMessages, 1)

	var msg stream.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode client message: %w", err)
	}

	switch msg.Type {
	case stream.EventSetupWallet:
		var address string
		if err := json.Unmarshal(msg.Data, &address); err != nil {
			return fmt.Errorf("decode setup-wallet address: %w", err)
		}
		if address == "" {
			return errors.New("setup-wallet: empty address")
		}
		return h.setupWallet(ctx, c, address)

	case stream.EventReadBalance:
		return h.readBalance(ctx, c)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// setupWallet binds the connection to a wallet and serves whatever is
// already known: a cached price for the wallet's currency goes out
// immediately, a cached balance too, and only an uncached balance costs a
// lookup task on the bus.
func (h *Hub) setupWallet(ctx context.Context, c *Client, address string) error {
	currency := stream.DeriveCurrency(address)

	h.mu.Lock()
	ok := h.registry.SetSubscription(c.id, address)
	price, havePrice := h.caches.Price(currency)
	h.mu.Unlock()

	if !ok {
		// Connection already torn down; late message, nothing to do.
		return nil
	}

	if havePrice {
		if frame, err := stream.Encode(stream.EventPriceUpdated, stream.PriceUpdate{Currency: currency, Price: price}); err == nil {
			c.Send(frame)
		}
	}

	balance, cached, err := h.RequestBalanceIfUncached(ctx, address, currency)
	if err != nil {
		return err
	}
	if cached {
		if frame, err := stream.Encode(stream.EventBalanceUpdated, stream.BalanceUpdate{Balance: balance}); err == nil {
			c.Send(frame)
		}
	}
	return nil
}

// readBalance is the explicit refresh path: it never consults the cache
// and always publishes a new task. Connections without a subscription are
// ignored.
func (h *Hub) readBalance(ctx context.Context, c *Client) error {
	h.mu.Lock()
	wallet, ok := h.registry.Subscription(c.id)
	h.mu.Unlock()

	if !ok {
		return nil
	}
	return h.publishTask(ctx, wallet.Address, wallet.Currency)
}

// RequestBalanceIfUncached returns the cached balance when one exists;
// otherwise it publishes exactly one lookup task. Concurrent callers racing
// on the same uncached address may each publish a task — the lookup is
// idempotent, so duplicates cost an extra HTTP call, not correctness.
func (h *Hub) RequestBalanceIfUncached(ctx context.Context, address, currency string) (float64, bool, error) {
	h.mu.Lock()
	balance, ok := h.caches.Balance(address)
	h.mu.Unlock()

	if ok {
		return balance, true, nil
	}
	return 0, false, h.publishTask(ctx, address, currency)
}

func (h *Hub) publishTask(ctx context.Context, address, currency string) error {
	if err := h.tasks.PublishTask(ctx, stream.BalanceTask{Address: address, Currency: currency}); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return fmt.Errorf("publish balance task for %s: %w", address, err)
	}
	atomic.AddInt64(&metrics.TasksPublished, 1)
	return nil
}

// HandleBalanceEvent caches an inbound balance result and fans it out to
// every connection subscribed to that exact address.
func (h *Hub) HandleBalanceEvent(address string, balance float64) {
	atomic.AddInt64(&metrics.BalanceEvents, 1)

	frame, err := stream.Encode(stream.EventBalanceUpdated, stream.BalanceUpdate{Balance: balance})
	if err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	h.mu.Lock()
	h.caches.SetBalance(address, balance)
	targets := h.registry.SubscribersOf(func(w Wallet) bool { return w.Address == address })
	h.mu.Unlock()

	for _, c := range targets {
		c.Send(frame)
	}
}

// HandlePriceEvent caches an inbound price tick and fans it out to every
// connection whose subscription currency matches, regardless of address.
// With no subscribers the cache still updates and nothing is sent.
func (h *Hub) HandlePriceEvent(currency string, price float64) {
	atomic.AddInt64(&metrics.PriceEvents, 1)

	frame, err := stream.Encode(stream.EventPriceUpdated, stream.PriceUpdate{Currency: currency, Price: price})
	if err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	h.mu.Lock()
	h.caches.SetPrice(currency, price)
	targets := h.registry.SubscribersOf(func(w Wallet) bool { return w.Currency == currency })
	h.mu.Unlock()

	for _, c := range targets {
		c.Send(frame)
	}
}
