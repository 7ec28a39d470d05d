package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"aldea.world/internal/protocol"
	"aldea.world/internal/sim/engine"
)

// Subjects the bridge uses. Event subjects nest the event type, so a
// consumer follows everything with "sim.events.>".
const (
	SubjectTick     = "sim.tick"
	SubjectCommands = "sim.commands"
	SubjectRejected = "sim.rejected"

	eventSubjectPrefix = "sim.events."
)

// OriginNATS marks commands that arrived over the broker. The publisher's
// own origin is never trusted.
const OriginNATS = "nats"

// Bridge mirrors the runner's outward flow onto broker subjects and feeds
// commands published by other processes into the queue. Attach wires it,
// Detach unwinds it.
type Bridge struct {
	broker *Broker
	runner *engine.Runner
	log    *log.Logger

	// Latest delivered event batch, paired to the tick push the same way
	// the websocket gateway does it.
	evMu       sync.Mutex
	eventsTick uint64
	events     []engine.Event

	unsub   func()
	cancels []func()
}

// NewBridge wires nothing yet; logger may be nil.
func NewBridge(broker *Broker, r *engine.Runner, logger *log.Logger) *Bridge {
	return &Bridge{broker: broker, runner: r, log: logger}
}

// Attach subscribes to the command subject and hooks the runner's tick and
// rejection feeds. The caller still adds the bridge to the runner's event
// sink fan-out, or no events ride out.
func (br *Bridge) Attach() error {
	unsub, err := br.broker.Subscribe(SubjectCommands, br.consumeCommand)
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", SubjectCommands, err)
	}
	br.unsub = unsub
	br.cancels = append(br.cancels,
		br.runner.OnTick(br.publishTick),
		br.runner.OnCommandRejected(br.publishRejection),
	)
	return nil
}

// Detach removes the subscription and the runner hooks.
func (br *Bridge) Detach() {
	if br.unsub != nil {
		br.unsub()
		br.unsub = nil
	}
	for _, cancel := range br.cancels {
		cancel()
	}
	br.cancels = nil
}

// LogEvents implements engine.EventSink.
func (br *Bridge) LogEvents(_ string, tick uint64, events []engine.Event) {
	br.evMu.Lock()
	br.eventsTick = tick
	br.events = events
	br.evMu.Unlock()
}

// publishTick runs on the loop goroutine; nats.Conn buffers writes, so the
// publishes cost a marshal, not a network round trip.
func (br *Bridge) publishTick(snap *engine.Snapshot) {
	br.evMu.Lock()
	events := br.events
	if br.eventsTick != snap.Tick {
		events = nil
	}
	br.evMu.Unlock()

	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := br.broker.Publish(eventSubjectPrefix+ev.Type, b); err != nil {
			br.logf("publish event: %v", err)
		}
	}

	b, err := json.Marshal(protocol.TickFromSnapshot(snap, nil))
	if err != nil {
		return
	}
	if err := br.broker.Publish(SubjectTick, b); err != nil {
		br.logf("publish tick: %v", err)
	}
}

func (br *Bridge) publishRejection(rej engine.Rejection) {
	b, err := json.Marshal(rej)
	if err != nil {
		return
	}
	if err := br.broker.Publish(SubjectRejected, b); err != nil {
		br.logf("publish rejection: %v", err)
	}
}

// consumeCommand decodes one published command and queues it. A queue
// overflow already reaches sim.rejected through the rejection hook.
func (br *Bridge) consumeCommand(data []byte) {
	var cmd engine.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		br.logf("drop malformed command: %v", err)
		br.publishRejection(engine.Rejection{Reason: "malformed_command"})
		return
	}
	cmd.Origin = OriginNATS
	br.runner.EnqueueCommand(cmd)
}

func (br *Bridge) logf(format string, args ...any) {
	if br.log != nil {
		br.log.Printf(format, args...)
	}
}
