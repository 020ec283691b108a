// Command chatrelay-loadtest drives sustained load against a running relay:
// it ramps up a target number of raw TCP connections, has each join a
// shared channel and send messages at a steady rate, and reports connection
// and message counters until the sustain duration elapses.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"chatrelay/internal/protocol"
)

type config struct {
	addr               string
	targetConnections  int
	rampRate           int // connections per second
	sustainDurationSec int
	reportIntervalSec  int
	messagesPerSec     int
	channelCount       int
}

type state struct {
	activeConnections int64
	totalCreated      int64
	failedConnections int64
	messagesSent      int64
	messagesReceived  int64
	errors            int64
}

func main() {
	cfg := parseFlags()
	st := &state{}

	log.Printf("chatrelay-loadtest: target=%d ramp=%d/s duration=%ds channels=%d",
		cfg.targetConnections, cfg.rampRate, cfg.sustainDurationSec, cfg.channelCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutdown signal received, cancelling")
		cancel()
	}()

	go periodicReport(ctx, st, time.Duration(cfg.reportIntervalSec)*time.Second)

	rampUp(ctx, cfg, st)

	select {
	case <-time.After(time.Duration(cfg.sustainDurationSec) * time.Second):
	case <-ctx.Done():
	}

	printReport(st)
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.addr, "addr", envOr("CHATRELAY_ADDR", "localhost:7777"), "relay TCP address")
	flag.IntVar(&cfg.targetConnections, "connections", envOrInt("TARGET_CONNECTIONS", 500), "target number of connections")
	flag.IntVar(&cfg.rampRate, "ramp-rate", envOrInt("RAMP_RATE", 50), "connections established per second during ramp-up")
	flag.IntVar(&cfg.sustainDurationSec, "duration", envOrInt("DURATION", 60), "sustain duration in seconds")
	flag.IntVar(&cfg.reportIntervalSec, "report-interval", 5, "report interval in seconds")
	flag.IntVar(&cfg.messagesPerSec, "rate", envOrInt("MESSAGE_RATE", 1), "messages sent per connection per second")
	flag.IntVar(&cfg.channelCount, "channels", envOrInt("CHANNEL_COUNT", 10), "number of distinct shared channels clients join")
	flag.Parse()
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func rampUp(ctx context.Context, cfg *config, st *state) {
	batchInterval := 100 * time.Millisecond
	perBatch := cfg.rampRate / 10
	if perBatch < 1 {
		perBatch = 1
	}

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	connID := 0
	for {
		if int(atomic.LoadInt64(&st.totalCreated)) >= cfg.targetConnections {
			log.Printf("ramp-up complete: %d connections", atomic.LoadInt64(&st.activeConnections))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < perBatch && int(atomic.LoadInt64(&st.totalCreated)) < cfg.targetConnections; i++ {
				atomic.AddInt64(&st.totalCreated, 1)
				channelID := uint32(connID%cfg.channelCount) + 1
				go runClient(ctx, cfg, st, connID, channelID)
				connID++
			}
		}
	}
}

// runClient connects, completes the handshake, joins/creates its assigned
// channel, and sends messages at a steady rate until ctx is cancelled.
func runClient(ctx context.Context, cfg *config, st *state, id int, channelID uint32) {
	conn, err := net.DialTimeout("tcp", cfg.addr, 5*time.Second)
	if err != nil {
		atomic.AddInt64(&st.failedConnections, 1)
		atomic.AddInt64(&st.errors, 1)
		return
	}
	defer conn.Close()

	nick := fmt.Sprintf("loadtest%d", id)
	if err := protocol.WriteFrame(conn, int32(id), protocol.SvrConnect, []byte(nick)); err != nil {
		atomic.AddInt64(&st.errors, 1)
		return
	}
	if _, err := protocol.ReadFrame(conn); err != nil {
		atomic.AddInt64(&st.errors, 1)
		return
	}

	joinReq := protocol.ChConnectRequest{Create: true, ChannelID: channelID}
	if err := protocol.WriteFrame(conn, int32(id), protocol.ChConnect, protocol.EncodeChConnectRequest(joinReq)); err != nil {
		atomic.AddInt64(&st.errors, 1)
		return
	}
	if _, err := protocol.ReadFrame(conn); err != nil {
		atomic.AddInt64(&st.errors, 1)
		return
	}

	atomic.AddInt64(&st.activeConnections, 1)
	defer atomic.AddInt64(&st.activeConnections, -1)

	go func() {
		for {
			if _, err := protocol.ReadFrame(conn); err != nil {
				return
			}
			atomic.AddInt64(&st.messagesReceived, 1)
		}
	}()

	interval := time.Second
	if cfg.messagesPerSec > 0 {
		interval = time.Second / time.Duration(cfg.messagesPerSec)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := protocol.ChMessageRequest{ChannelID: channelID, Text: strings.Repeat("x", 32)}
			if err := protocol.WriteFrame(conn, int32(id), protocol.ChMessage, protocol.EncodeChMessageRequest(msg)); err != nil {
				atomic.AddInt64(&st.errors, 1)
				return
			}
			atomic.AddInt64(&st.messagesSent, 1)
		}
	}
}

func periodicReport(ctx context.Context, st *state, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printReport(st)
		}
	}
}

func printReport(st *state) {
	log.Printf("active=%d created=%d failed=%d sent=%d received=%d errors=%d",
		atomic.LoadInt64(&st.activeConnections),
		atomic.LoadInt64(&st.totalCreated),
		atomic.LoadInt64(&st.failedConnections),
		atomic.LoadInt64(&st.messagesSent),
		atomic.LoadInt64(&st.messagesReceived),
		atomic.LoadInt64(&st.errors),
	)
}
