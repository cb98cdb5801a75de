package main

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Metrics tracks hub activity. All counters are updated atomically.
type Metrics struct {
	PriceEvents    int64 // price ticks consumed from the bus
	BalanceEvents  int64 // balance results consumed from the bus
	ClientMessages int64 // frames received from clients
	TasksPublished int64 // lookup tasks published to the bus
	Delivered      int64 // frames queued to clients
	Dropped        int64 // frames dropped (closed or backed-up connections)
	Errors         int64
	StartTime      time.Time
}

var metrics Metrics

// logMetrics logs a counter snapshot every 30 seconds.
func logMetrics(ctx context.Context, hub *Hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[Hub] clients=%d prices=%d balances=%d client_msgs=%d tasks=%d delivered=%d dropped=%d errors=%d uptime=%s",
				hub.ClientCount(),
				atomic.LoadInt64(&metrics.PriceEvents),
				atomic.LoadInt64(&metrics.BalanceEvents),
				atomic.LoadInt64(&metrics.ClientMessages),
				atomic.LoadInt64(&metrics.TasksPublished),
				atomic.LoadInt64(&metrics.Delivered),
				atomic.LoadInt64(&metrics.Dropped),
				atomic.LoadInt64(&metrics.Errors),
				time.Since(metrics.StartTime).Round(time.Second))
		}
	}
}
