// Package main implements the price feed publisher. It subscribes to the
// Binance ticker stream for the tracked trading pairs, normalizes each tick
// to a bare currency and numeric price, and republishes it on the bus keyed
// by currency so per-currency ordering is preserved.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/coinwatch/wallet-stream/stream"
)

const defaultBinanceWS = "wss://stream.binance.com:9443"

var tickers = []string{"btcusdt", "ethusdt"}

// Metrics tracks publisher throughput. Counters are updated atomically.
type Metrics struct {
	TicksReceived  int64
	TicksPublished int64
	Errors         int64
	StartTime      time.Time
}

var metrics Metrics

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// streamURL builds the combined-stream endpoint for the tracked tickers.
func streamURL(base string) string {
	streams := make([]string, len(tickers))
	for i, t := range tickers {
		streams[i] = t + "@ticker"
	}
	return fmt.Sprintf("%s/stream?streams=%s", base, strings.Join(streams, "/"))
}

// runFeed keeps one connection to the feed alive, republishing every
// normalized tick. On a read error it reconnects with backoff; a tick that
// fails to normalize is logged and skipped.
func runFeed(ctx context.Context, feedURL string, writer *kafka.Writer) {
	backoff := time.Second

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, feedURL, nil)
		if err != nil {
			atomic.StoreInt32(&feedConnected, 0)
			log.Printf("[PriceFeed] dial %s: %v, retrying in %v", feedURL, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		log.Printf("[PriceFeed] connected to %s", feedURL)
		atomic.StoreInt32(&feedConnected, 1)
		backoff = time.Second

		readFeed(ctx, conn, writer)
		conn.Close()
		atomic.StoreInt32(&feedConnected, 0)
	}
}

func readFeed(ctx context.Context, conn *websocket.Conn, writer *kafka.Writer) {
	// Unblock the read loop when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[PriceFeed] read: %v", err)
			}
			return
		}
		atomic.AddInt64(&metrics.TicksReceived, 1)

		var frame combinedFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[PriceFeed] malformed feed message: %v", err)
			continue
		}

		tick, err := normalizeTick(frame.Data)
		if err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[PriceFeed] skipping tick: %v", err)
			continue
		}

		value, err := json.Marshal(tick)
		if err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			continue
		}
		if err := writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(tick.Currency),
			Value: value,
			Time:  time.Now(),
		}); err != nil {
			if ctx.Err() != nil {
				return
			}
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("[PriceFeed] publish tick %s: %v", tick.Currency, err)
			continue
		}
		atomic.AddInt64(&metrics.TicksPublished, 1)
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
			log.Printf("[PriceFeed] received=%d published=%d errors=%d uptime=%s",
				atomic.LoadInt64(&metrics.TicksReceived),
				atomic.LoadInt64(&metrics.TicksPublished),
				atomic.LoadInt64(&metrics.Errors),
				time.Since(metrics.StartTime).Round(time.Second))
		}
	}
}

func main() {
	metrics = Metrics{StartTime: time.Now()}

	godotenv.Load()

	brokerAddr := flag.String("broker", envOr("KAFKA_BROKER", "localhost:9092"), "Kafka broker address")
	feedBase := flag.String("feed", envOr("BINANCE_WS_URL", defaultBinanceWS), "Binance WebSocket base URL")
	healthAddr := flag.String("health", envOr("PRICEFEED_HEALTH_ADDR", ":8081"), "Health check server address")
	flag.Parse()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(*brokerAddr),
		Topic:        stream.TopicCurrencyPrice,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startHealthServer(*healthAddr)
	if err := checkKafkaHealth(*brokerAddr); err != nil {
		log.Printf("[PriceFeed] initial Kafka health check failed: %v", err)
	} else {
		atomic.StoreInt32(&kafkaHealthy, 1)
	}
	go monitorKafkaHealth(ctx, *brokerAddr)
	go logMetrics(ctx)

	log.Printf("[PriceFeed] started")
	log.Printf("[PriceFeed] Kafka broker: %s", *brokerAddr)
	log.Printf("[PriceFeed] tickers: %s", strings.Join(tickers, ", "))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[PriceFeed] shutdown signal received...")
		cancel()
	}()

	runFeed(ctx, streamURL(*feedBase), writer)

	log.Printf("[PriceFeed] stopped. received=%d published=%d",
		atomic.LoadInt64(&metrics.TicksReceived),
		atomic.LoadInt64(&metrics.TicksPublished))
}
