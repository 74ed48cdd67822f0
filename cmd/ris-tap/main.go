package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asnwatch/trust-engine/internal/ris"
)

// ris-tap subscribes to a RIS Live collector and prints what the parser
// makes of each frame. Handy for eyeballing stream quirks without running
// the full pipeline.
func main() {
	url := "wss://ris-live.ripe.net/v1/ws/?client=ris-tap"
	host := "rrc21"
	if len(os.Args) > 1 {
		host = os.Args[1]
	}
	if len(os.Args) > 2 {
		url = os.Args[2]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sub := map[string]any{
		"type": "ris_subscribe",
		"data": map[string]any{"host": host, "type": "UPDATE", "require": "announcements"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("subscribed to %s via %s\n", host, url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	frames, parsed, failed := 0, 0, 0
	for ctx.Err() == nil {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		frames++

		evs, err := ris.ParseMessage(raw)
		if err != nil {
			failed++
			fmt.Printf("=== frame %d: parse error: %v\n", frames, err)
			continue
		}
		if len(evs) == 0 {
			fmt.Printf("=== frame %d: skipped (%s)\n", frames, ris.DecodeType(raw))
			continue
		}
		parsed++
		for _, ev := range evs {
			fmt.Printf("=== frame %d: %s AS%d %s upstream=AS%d path_len=%d communities=%d\n",
				frames, ev.EventType, ev.ASN, ev.Prefix, ev.UpstreamAS, len(ev.Path), len(ev.Community))
		}
	}

	fmt.Printf("frames=%d parsed=%d failed=%d\n", frames, parsed, failed)
}
