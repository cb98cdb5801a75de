package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/coinwatch/wallet-stream/stream"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newBroadcastReader builds a reader with a per-instance consumer group so
// this hub sees every message on the topic. New groups start at the latest
// offset: old ticks and results are useless to a fresh instance.
func newBroadcastReader(brokerAddr, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{brokerAddr},
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
}

// consumePrices feeds price ticks to the hub in strict arrival order. A
// payload that fails to parse is logged and skipped; a reader error while
// the context is still live means the bus is gone, which is fatal — the hub
// must not keep serving clients it can no longer update.
func consumePrices(ctx context.Context, reader *kafka.Reader, hub *Hub) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("[Hub] price consumer lost the bus: %v", err)
		}

		var tick stream.PriceUpdate
		if err := json.Unmarshal(msg.Value, &tick); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[Hub] malformed price event (key %q): %v", msg.Key, err)
			continue
		}

		hub.HandlePriceEvent(string(msg.Key), tick.Price)
	}
}

// consumeBalances feeds balance results to the hub; same policies as
// consumePrices. The wallet address rides on the message key.
func consumeBalances(ctx context.Context, reader *kafka.Reader, hub *Hub) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("[Hub] balance consumer lost the bus: %v", err)
		}

		var update stream.BalanceUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[Hub] malformed balance event (key %q): %v", msg.Key, err)
			continue
		}

		hub.HandleBalanceEvent(string(msg.Key), update.Balance)
	}
}

// deleteGroups best-effort removes the per-instance consumer groups so
// restarts do not leave stale group metadata piling up on the bus.
func deleteGroups(brokerAddr string, groupIDs ...string) {
	client := &kafka.Client{
		Addr:    kafka.TCP(brokerAddr),
		Timeout: 10 * time.Second,
	}

	resp, err := client.DeleteGroups(context.Background(), &kafka.DeleteGroupsRequest{
		GroupIDs: groupIDs,
	})
	if err != nil {
		log.Printf("[Hub] delete consumer groups: %v", err)
		return
	}
	for group, err := range resp.Errors {
		if err != nil {
			log.Printf("[Hub] delete consumer group %s: %v", group, err)
		}
	}
}

func main() {
	metrics = Metrics{StartTime: time.Now()}

	godotenv.Load()

	brokerAddr := flag.String("broker", envOr("KAFKA_BROKER", "localhost:9092"), "Kafka broker address")
	wsAddr := flag.String("addr", envOr("HUB_ADDR", ":3000"), "WebSocket server address")
	flag.Parse()

	if err := waitForKafka(*brokerAddr, 15); err != nil {
		log.Fatalf("[Hub] %v", err)
	}

	tasks := newKafkaTaskPublisher(*brokerAddr)
	hub := NewHub(tasks)

	priceGroup := stream.NewHubGroup("price")
	balanceGroup := stream.NewHubGroup("balance")
	priceReader := newBroadcastReader(*brokerAddr, stream.TopicCurrencyPrice, priceGroup)
	balanceReader := newBroadcastReader(*brokerAddr, stream.TopicWalletBalance, balanceGroup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumePrices(ctx, priceReader, hub)
	go consumeBalances(ctx, balanceReader, hub)
	go monitorKafka(ctx, *brokerAddr)
	go logMetrics(ctx, hub)

	server := NewServer(hub, *wsAddr)
	server.Start()

	log.Printf("[Hub] started")
	log.Printf("[Hub] Kafka broker: %s", *brokerAddr)
	log.Printf("[Hub] price group: %s", priceGroup)
	log.Printf("[Hub] balance group: %s", balanceGroup)
	log.Printf("[Hub] press Ctrl+C to stop...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[Hub] shutdown signal received...")

	// Stop accepting connections first, then tear down the bus side and
	// clean up this instance's group registrations.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Hub] server shutdown: %v", err)
	}

	cancel()
	tasks.Close()
	priceReader.Close()
	balanceReader.Close()
	deleteGroups(*brokerAddr, priceGroup, balanceGroup)

	log.Printf("[Hub] stopped. prices=%d balances=%d tasks=%d",
		atomic.LoadInt64(&metrics.PriceEvents),
		atomic.LoadInt64(&metrics.BalanceEvents),
		atomic.LoadInt64(&metrics.TasksPublished))
}
