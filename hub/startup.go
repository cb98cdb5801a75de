package main

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaReady gates the /ready endpoint.
var kafkaReady int32

// waitForKafka blocks until the broker answers a controller lookup, backing
// off linearly between attempts.
func waitForKafka(brokerAddr string, maxAttempts int) error {
	log.Printf("[Hub] waiting for Kafka at %s...", brokerAddr)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := checkKafka(brokerAddr); err == nil {
			log.Printf("[Hub] Kafka is ready after %d attempts", attempt)
			atomic.StoreInt32(&kafkaReady, 1)
			return nil
		}

		if attempt < maxAttempts {
			wait := time.Duration(attempt) * 2 * time.Second
			log.Printf("[Hub] Kafka not ready (attempt %d/%d), retrying in %v...", attempt, maxAttempts, wait)
			time.Sleep(wait)
		}
	}

	return fmt.Errorf("kafka not ready after %d attempts", maxAttempts)
}

func checkKafka(brokerAddr string) error {
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

// monitorKafka keeps the readiness flag current in the background.
func monitorKafka(ctx context.Context, brokerAddr string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := checkKafka(brokerAddr); err != nil {
				log.Printf("[Hub] Kafka health check failed: %v", err)
				atomic.StoreInt32(&kafkaReady, 0)
			} else {
				atomic.StoreInt32(&kafkaReady, 1)
			}
		}
	}
}
