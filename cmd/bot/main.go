// Command bot is a headless websocket client. It joins a world, optionally
// spawns a few agents, and keeps light command traffic flowing, which makes
// it useful for soak tests and for watching a world from a terminal.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"aldea.world/internal/protocol"
	"aldea.world/internal/sim/engine"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "client name, also the spawned agents' name prefix")
		spawn     = flag.Int("spawn", 0, "spawn this many agents after WELCOME")
		pingEvery = flag.Uint64("ping_every", 100, "send a PING every N ticks (0 disables)")
		logEvery  = flag.Uint64("log_every", 50, "print a tick summary every N ticks (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var params protocol.WorldParams

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			params = w.WorldParams
			logger.Printf("WELCOME session=%s world=%s tick=%d seed=%d", w.SessionID, w.WorldID, w.Tick, params.Seed)
			for i := 0; i < *spawn; i++ {
				sendCommand(conn, fmt.Sprintf("spawn-%d", i+1), engine.Command{
					Kind: engine.CmdSpawnAgent,
					SpawnAgent: &engine.SpawnAgentCommand{
						Name: fmt.Sprintf("%s-%d", *name, i+1),
						X:    rng.Float64() * params.Width,
						Y:    rng.Float64() * params.Height,
					},
				})
			}

		case protocol.TypeTick:
			var t protocol.TickMsg
			if err := json.Unmarshal(msg, &t); err != nil {
				continue
			}
			if *pingEvery > 0 && t.Tick%*pingEvery == 0 {
				sendCommand(conn, fmt.Sprintf("ping-%d", t.Tick), engine.Command{
					Kind: engine.CmdPing,
					Ping: &engine.PingCommand{Nonce: fmt.Sprintf("%s-%d", *name, t.Tick)},
				})
			}
			if *logEvery > 0 && t.Tick%*logEvery == 0 {
				logger.Printf("tick=%d day=%d agents=%d animals=%d resources=%d events=%d",
					t.Tick, t.Clock.Day, t.Agents, t.Animals, t.Resources, len(t.Events))
			}

		case protocol.TypeRejected:
			var rej protocol.RejectedMsg
			if err := json.Unmarshal(msg, &rej); err != nil {
				continue
			}
			logger.Printf("REJECTED cmd=%s code=%s msg=%s queue=%d/%d", rej.CmdID, rej.Code, rej.Message, rej.QueueDepth, rej.QueueCap)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR code=%s msg=%s", e.Code, e.Message)
		}
	}
}

func sendCommand(conn *websocket.Conn, cmdID string, cmd engine.Command) {
	_ = conn.WriteJSON(protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		CmdID:           cmdID,
		Command:         cmd,
	})
}
