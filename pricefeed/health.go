package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

var (
	kafkaHealthy  int32
	feedConnected int32
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status         string    `json:"status"`
	Service        string    `json:"service"`
	Timestamp      time.Time `json:"timestamp"`
	TicksPublished int64     `json:"ticks_published"`
	Uptime         string    `json:"uptime"`
	KafkaConnected bool      `json:"kafka_connected"`
	FeedConnected  bool      `json:"feed_connected"`
}

// ReadinessStatus is the /ready response body.
type ReadinessStatus struct {
	Ready         bool      `json:"ready"`
	Service       string    `json:"service"`
	Timestamp     time.Time `json:"timestamp"`
	KafkaReady    bool      `json:"kafka_ready"`
	FeedConnected bool      `json:"feed_connected"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:         "healthy",
		Service:        "pricefeed",
		Timestamp:      time.Now(),
		TicksPublished: atomic.LoadInt64(&metrics.TicksPublished),
		Uptime:         time.Since(metrics.StartTime).String(),
		KafkaConnected: atomic.LoadInt32(&kafkaHealthy) == 1,
		FeedConnected:  atomic.LoadInt32(&feedConnected) == 1,
	}

	w.Header().Set("Content-Type", "application/json")
	if !status.KafkaConnected {
		status.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	kafkaReady := atomic.LoadInt32(&kafkaHealthy) == 1
	feedReady := atomic.LoadInt32(&feedConnected) == 1

	status := ReadinessStatus{
		Ready:         kafkaReady && feedReady,
		Service:       "pricefeed",
		Timestamp:     time.Now(),
		KafkaReady:    kafkaReady,
		FeedConnected: feedReady,
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// startHealthServer serves liveness and readiness checks in the background.
func startHealthServer(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/ready", handleReady)

	go func() {
		log.Printf("[PriceFeed] health server listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[PriceFeed] health server error: %v", err)
		}
	}()
}

func checkKafkaHealth(brokerAddr string) error {
	conn, err := kafka.Dial("tcp", brokerAddr)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Controller(); err != nil {
		return fmt.Errorf("controller lookup: %w", err)
	}
	return nil
}

// monitorKafkaHealth keeps the readiness flag current in the background.
func monitorKafkaHealth(ctx context.Context, brokerAddr string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := checkKafkaHealth(brokerAddr); err != nil {
				log.Printf("[PriceFeed] Kafka health check failed: %v", err)
				atomic.StoreInt32(&kafkaHealthy, 0)
			} else {
				atomic.StoreInt32(&kafkaHealthy, 1)
			}
		}
	}
}
