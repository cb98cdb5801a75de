// Package main implements the terminal client. It subscribes one wallet on
// the hub and keeps a small status panel current as price and balance
// updates stream in. Enter forces a balance refresh; one is also requested
// periodically in the background.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/coinwatch/wallet-stream/stream"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// socket serializes writes to the connection; reads stay on the main loop.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) sendEvent(msgType string, data interface{}) error {
	frame, err := stream.Encode(msgType, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func main() {
	godotenv.Load()

	serverURL := flag.String("server", envOr("HUB_WS_URL", "ws://localhost:3000/ws"), "Hub WebSocket URL")
	refresh := flag.Duration("refresh", time.Minute, "Automatic balance refresh interval")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: cli [flags] <wallet-address>")
		os.Exit(2)
	}
	address := flag.Arg(0)

	view := walletView{currency: stream.DeriveCurrency(address)}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("connect to hub at %s: %v", *serverURL, err)
	}
	sock := &socket{conn: conn}

	if err := sock.sendEvent(stream.EventSetupWallet, address); err != nil {
		log.Fatalf("subscribe wallet: %v", err)
	}

	shutdown := func(code int) {
		// Step past the panel so the shell prompt lands below it.
		fmt.Print("\n\n\n\n")
		conn.Close()
		os.Exit(code)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		shutdown(0)
	}()

	// Enter refreshes on demand.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			sock.sendEvent(stream.EventReadBalance, nil)
		}
	}()

	// And a periodic refresh keeps the balance from going stale.
	go func() {
		ticker := time.NewTicker(*refresh)
		defer ticker.Stop()
		for range ticker.C {
			sock.sendEvent(stream.EventReadBalance, nil)
		}
	}()

	view.render(os.Stdout)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			shutdown(0)
		}

		var msg stream.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case stream.EventBalanceUpdated:
			var update stream.BalanceUpdate
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				continue
			}
			view.balance = &update.Balance

		case stream.EventPriceUpdated:
			var tick stream.PriceUpdate
			if err := json.Unmarshal(msg.Data, &tick); err != nil {
				continue
			}
			view.price = &tick.Price
		}

		view.render(os.Stdout)
	}
}
