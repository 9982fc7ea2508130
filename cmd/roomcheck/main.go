package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-chess-rooms/internal/dirmirror"
	"github.com/park285/cheese-chess-rooms/internal/roomclient"
	"github.com/park285/cheese-chess-rooms/pkg/protocol"
)

func main() {
	baseURL := os.Getenv("ROOMS_BASE_URL")
	wsURL := os.Getenv("ROOMS_WS_URL")
	redisURL := os.Getenv("REDIS_URL")
	window := 10 * time.Second
	if v := strings.TrimSpace(os.Getenv("WATCH_SECONDS")); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			window = d
		}
	}

	if baseURL == "" {
		log.Fatal("ROOMS_BASE_URL is required")
	}

	client := roomclient.NewClient(baseURL, roomclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h, err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz ok: status=%s rooms=%d connections=%d", h.Status, h.Rooms, h.Connections)
	}
	if rooms, err := client.Rooms(ctx); err != nil {
		log.Printf("/rooms error: %v", err)
	} else {
		log.Printf("/rooms ok: %v", rooms)
	}

	wctx, wcancel := context.WithTimeout(context.Background(), window)
	defer wcancel()

	mirrorDone := make(chan struct{})
	if redisURL != "" {
		go func() {
			defer close(mirrorDone)
			watchMirror(wctx, redisURL)
		}()
	} else {
		close(mirrorDone)
	}
	defer func() {
		wcancel()
		<-mirrorDone
	}()

	if wsURL == "" {
		log.Println("ROOMS_WS_URL not set; skipping WS check")
		<-wctx.Done()
		return
	}

	conn, err := roomclient.Dial(context.Background(), wsURL)
	if err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	conn.OnStateChange(func(s roomclient.State) {
		log.Printf("WS state: %s", s)
	})

	// Observe for a short window
	for {
		env, err := conn.Next(wctx)
		if err != nil {
			break
		}
		fmt.Printf("WS %s %s\n", env.Type, string(env.Payload))
		if env.Type == protocol.TypeError {
			var perr protocol.ErrorPayload
			if protocol.DecodePayload(env, &perr) == nil {
				log.Printf("server error: %v", perr)
			}
		}
	}

	cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer ccancel()
	_ = conn.Close(cctx)
}

func watchMirror(ctx context.Context, redisURL string) {
	var opts []dirmirror.Option
	if key := strings.TrimSpace(os.Getenv("DIRECTORY_KEY")); key != "" {
		opts = append(opts, dirmirror.WithKey(key))
	}
	if ch := strings.TrimSpace(os.Getenv("DIRECTORY_CHANNEL")); ch != "" {
		opts = append(opts, dirmirror.WithChannel(ch))
	}
	m, err := dirmirror.New(ctx, redisURL, opts...)
	if err != nil {
		log.Printf("redis mirror error: %v", err)
		return
	}
	// the server owns the directory; Close would clear it
	defer func() { _ = m.Release() }()
	if rooms, err := m.Rooms(ctx); err == nil {
		v, _ := m.Version(ctx)
		log.Printf("redis mirror: version=%d rooms=%v", v, rooms)
	}
	err = m.Subscribe(ctx, func(ev dirmirror.Event) {
		log.Printf("redis mirror event: version=%d rooms=%v", ev.Version, ev.Rooms)
	})
	if err != nil {
		log.Printf("redis subscribe error: %v", err)
	}
}
