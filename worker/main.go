// Package main implements the balance lookup worker. Workers form one
// shared consumer group on the task topic, so the bus load-balances lookups
// across instances; each worker resolves its tasks against the balance
// service and republishes the result keyed by wallet address.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
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

// Metrics tracks worker throughput. Counters are updated atomically.
type Metrics struct {
	TasksConsumed    int64
	LookupsSucceeded int64
	LookupsFailed    int64
	Errors           int64
	StartTime        time.Time
}

var metrics Metrics

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// waitForKafka blocks until the broker answers, backing off between tries.
func waitForKafka(brokerAddr string, maxAttempts int) error {
	log.Printf("[Worker] waiting for Kafka at %s...", brokerAddr)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := kafka.Dial("tcp", brokerAddr)
		if err == nil {
			_, err = conn.Controller()
			conn.Close()
			if err == nil {
				log.Printf("[Worker] Kafka is ready after %d attempts", attempt)
				return nil
			}
		}

		if attempt < maxAttempts {
			wait := time.Duration(attempt) * 2 * time.Second
			log.Printf("[Worker] Kafka not ready (attempt %d/%d), retrying in %v...", attempt, maxAttempts, wait)
			time.Sleep(wait)
		}
	}

	return fmt.Errorf("kafka not ready after %d attempts", maxAttempts)
}

// processTasks drains the task topic. A task that cannot be parsed or whose
// lookup keeps failing is logged and skipped; the group must keep moving,
// and the client that asked can always request another refresh.
func processTasks(ctx context.Context, reader *kafka.Reader, writer *kafka.Writer, client *BalanceClient) {
	retryCfg := DefaultRetryConfig("balance-service")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("[Worker] task consumer lost the bus: %v", err)
		}
		atomic.AddInt64(&metrics.TasksConsumed, 1)

		var task stream.BalanceTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[Worker] malformed task (key %q): %v", msg.Key, err)
			continue
		}

		var balance float64
		err = RetryWithBackoff(ctx, retryCfg, func() error {
			var lookupErr error
			balance, lookupErr = client.WalletBalance(ctx, task.Currency, task.Address)
			return lookupErr
		})
		if err != nil {
			atomic.AddInt64(&metrics.LookupsFailed, 1)
			log.Printf("[Worker] lookup for %s (%s) failed: %v", task.Address, task.Currency, err)
			continue
		}

		payload, err := json.Marshal(stream.BalanceUpdate{Balance: balance})
		if err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			continue
		}
		if err := writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(task.Address),
			Value: payload,
			Time:  time.Now(),
		}); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[Worker] publish balance for %s: %v", task.Address, err)
			continue
		}

		atomic.AddInt64(&metrics.LookupsSucceeded, 1)
		log.Printf("[Worker] %s (%s) -> %v", task.Address, task.Currency, balance)
	}
}

func logMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[Worker] consumed=%d ok=%d failed=%d errors=%d uptime=%s",
				atomic.LoadInt64(&metrics.TasksConsumed),
				atomic.LoadInt64(&metrics.LookupsSucceeded),
				atomic.LoadInt64(&metrics.LookupsFailed),
				atomic.LoadInt64(&metrics.Errors),
				time.Since(metrics.StartTime).Round(time.Second))
		}
	}
}

func main() {
	metrics = Metrics{StartTime: time.Now()}

	godotenv.Load()

	brokerAddr := flag.String("broker", envOr("KAFKA_BROKER", "localhost:9092"), "Kafka broker address")
	apiURL := flag.String("api", envOr("BLOCKCYPHER_API_URL", defaultBlockCypherURL), "Balance service base URL")
	flag.Parse()

	if err := waitForKafka(*brokerAddr, 15); err != nil {
		log.Fatalf("[Worker] %v", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{*brokerAddr},
		GroupID:     stream.BalanceWorkerGroup,
		Topic:       stream.TopicBalanceTasks,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	defer reader.Close()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(*brokerAddr),
		Topic:        stream.TopicWalletBalance,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	defer writer.Close()

	client := NewBalanceClient(*apiURL, os.Getenv("BLOCKCYPHER_TOKEN"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[Worker] shutdown signal received...")
		cancel()
	}()

	go logMetrics(ctx)

	log.Printf("[Worker] started")
	log.Printf("[Worker] Kafka broker: %s", *brokerAddr)
	log.Printf("[Worker] consumer group: %s", stream.BalanceWorkerGroup)
	log.Printf("[Worker] balance service: %s", *apiURL)

	processTasks(ctx, reader, writer, client)

	log.Printf("[Worker] stopped. consumed=%d ok=%d failed=%d",
		atomic.LoadInt64(&metrics.TasksConsumed),
		atomic.LoadInt64(&metrics.LookupsSucceeded),
		atomic.LoadInt64(&metrics.LookupsFailed))
}
