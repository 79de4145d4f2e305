// Command agent is a headless whiteboard participant: it joins a room,
// mirrors the board through the sync engine, and keeps the store fresh. It
// is the client core without a canvas in front of it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"idealab/internal/boardapi"
	"idealab/internal/engine"
	"idealab/internal/identity"
	"idealab/internal/protocol"
	"idealab/internal/transport"
)

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:8787", "idealab API base URL")
	room := flag.String("room", "room-1", "room id to join")
	statePath := flag.String("state", defaultStatePath(), "identity store path")
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*statePath), 0o755); err != nil {
		log.Fatalf("state dir: %v", err)
	}
	me, err := identity.Load(*statePath)
	if err != nil {
		log.Fatalf("identity load failed: %v", err)
	}
	log.Printf("joining %s as %s (%s)", *room, me.Name, me.ID)

	channel, err := transport.Dial(*serverURL, me)
	if err != nil {
		log.Fatalf("relay dial failed: %v", err)
	}
	defer channel.Close()

	eng := engine.New(*room, me, channel, boardapi.New(*serverURL))
	eng.Bind()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	eng.LoadInitial(ctx)
	cancel()
	log.Printf("board loaded: %d node(s), %d edge(s)", len(eng.Nodes()), len(eng.Edges()))

	// Log room activity so the agent is observable.
	for _, event := range []string{
		protocol.EventNodeCreate,
		protocol.EventNodesDelete,
		protocol.EventEdgeCreate,
		protocol.EventEdgesDelete,
		protocol.EventBoardUpdate,
	} {
		event := event
		channel.On(event, func(env protocol.Envelope) {
			eng.ApplyRemote(env)
			log.Printf("%s from %s: board now has %d node(s), %d edge(s)",
				event, env.Origin, len(eng.Nodes()), len(eng.Edges()))
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	eng.FlushNow()
	eng.Close()
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "idealab-identity.db"
	}
	return filepath.Join(home, ".idealab", "identity.db")
}
