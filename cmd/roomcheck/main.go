package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/roomlink/internal/api"
	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/obslog"
	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/session"
)

func main() {
	apiURL := os.Getenv("ROOMLINK_API_URL")
	wsURL := os.Getenv("ROOMLINK_WS_URL")
	creds := session.Credentials{
		Token:    os.Getenv("ROOMLINK_TOKEN"),
		UserID:   os.Getenv("ROOMLINK_USER_ID"),
		Username: os.Getenv("ROOMLINK_USERNAME"),
	}

	if apiURL == "" {
		log.Fatal("ROOMLINK_API_URL is required")
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}

	client := api.NewClient(apiURL,
		api.WithHeaderProvider(func() map[string]string { return session.Headers(creds) }),
		api.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	page, err := client.ListRooms(ctx, 1, api.DefaultPageSize)
	if err != nil {
		log.Printf("/rooms error: %v", err)
	} else {
		log.Printf("/rooms ok: total=%d page=%d shown=%d", page.Meta.Total, page.Meta.Page, len(page.Rooms))
		for _, r := range page.Rooms {
			fmt.Printf("  %s %q status=%s players=%d/%d\n", r.ID, r.Name, r.Status, len(r.Players), r.PlayerCount)
		}
	}

	if wsURL == "" {
		log.Println("ROOMLINK_WS_URL not set; skipping push check")
		return
	}

	m := conn.NewManager(conn.WSDialer{URL: wsURL},
		conn.WithRetry(1, time.Second),
		conn.WithLogger(obslog.Named("conn")),
	)
	m.OnStateChange(func(ev conn.StateEvent) {
		log.Printf("push state: %s -> %s", ev.Prev, ev.State)
	})
	m.OnFrame(func(f protocol.Frame) {
		fmt.Printf("push frame event=%s room=%s ts=%d\n", f.Event, f.RoomID, f.TS)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	id, err := m.Connect(cctx, creds)
	if err != nil {
		log.Printf("push connect error: %v", err)
		return
	}
	log.Printf("push ready: user=%s", id.UserID)

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = m.Disconnect(context.Background())
}
