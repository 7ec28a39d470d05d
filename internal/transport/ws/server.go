// Package ws is the websocket gateway: HELLO/WELCOME handshake, COMMAND
// intake and per-tick TICK pushes. The gateway never touches world state;
// everything goes through the runner's command queue and snapshots.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aldea.world/internal/persistence/indexdb"
	"aldea.world/internal/protocol"
	"aldea.world/internal/sim/engine"
)

// outQueueSize bounds each client's outbound buffer. A slow client loses
// the oldest pushes first, never the newest.
const outQueueSize = 64

// EventIndex is the slice of the sqlite index the gateway reads to answer
// EVENT_BATCH_REQ.
type EventIndex interface {
	EventsSince(ctx context.Context, cursor uint64, limit int) ([]indexdb.EventRow, error)
}

type Config struct {
	WorldID string
	Params  protocol.WorldParams
	History EventIndex // nil disables EVENT_BATCH
}

type Server struct {
	runner *engine.Runner
	cfg    Config
	log    *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session

	// Latest delivered event batch; the runner feeds LogEvents before
	// notifying tick listeners, so PushTick pairs them by tick number.
	evMu       sync.Mutex
	eventsTick uint64
	events     []engine.Event
}

func NewServer(r *engine.Runner, cfg Config, logger *log.Logger) *Server {
	return &Server{
		runner: r,
		cfg:    cfg,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: make(map[string]*session),
	}
}

type session struct {
	id        string
	subscribe map[string]bool // nil means every event type
	out       chan []byte
}

// send queues b, dropping the oldest queued message when full.
func (c *session) send(b []byte) {
	select {
	case c.out <- b:
		return
	default:
	}
	select {
	case <-c.out:
	default:
	}
	select {
	case c.out <- b:
	default:
	}
}

func (c *session) sendMsg(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.send(b)
}

func (c *session) reject(cmdID, code, msg string, m engine.Metrics) {
	c.sendMsg(protocol.RejectedMsg{
		Type:            protocol.TypeRejected,
		ProtocolVersion: protocol.Version,
		CmdID:           cmdID,
		Code:            code,
		Message:         msg,
		QueueDepth:      m.QueueDepth,
		QueueCap:        m.QueueCap,
	})
}

// filter keeps the event types this session subscribed to.
func (c *session) filter(events []engine.Event) []engine.Event {
	if c.subscribe == nil || len(events) == 0 {
		return events
	}
	var out []engine.Event
	for _, ev := range events {
		if c.subscribe[ev.Type] {
			out = append(out, ev)
		}
	}
	return out
}

// SessionCount reports connected clients for the metrics endpoint.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LogEvents implements engine.EventSink: it parks the tick's batch until
// the matching PushTick arrives.
func (s *Server) LogEvents(_ string, tick uint64, events []engine.Event) {
	s.evMu.Lock()
	s.eventsTick = tick
	s.events = events
	s.evMu.Unlock()
}

// PushTick fans one committed tick out to every session. Wire it to
// Runner.OnTick; it must not block the loop, so sends drop rather than
// wait.
func (s *Server) PushTick(snap *engine.Snapshot) {
	s.evMu.Lock()
	events := s.events
	if s.eventsTick != snap.Tick {
		events = nil
	}
	s.evMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sessions {
		c.sendMsg(protocol.TickFromSnapshot(snap, c.filter(events)))
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		// Register before WELCOME so a welcomed client never misses a push.
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sess.id,
			WorldID:         s.cfg.WorldID,
			Tick:            s.runner.Tick(),
			WorldParams:     s.cfg.Params,
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeCommand:
				s.handleCommand(sess, msg)
			case protocol.TypeEventBatchReq:
				s.handleEventBatch(sess, msg)
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	sess := &session{
		id:  "s-" + uuid.NewString(),
		out: make(chan []byte, outQueueSize),
	}
	if len(hello.Subscribe) > 0 {
		sess.subscribe = make(map[string]bool, len(hello.Subscribe))
		for _, t := range hello.Subscribe {
			sess.subscribe[t] = true
		}
	}
	return sess
}

func (s *Server) handleCommand(c *session, raw []byte) {
	if err := protocol.ValidateCommand(raw); err != nil {
		var probe struct {
			CmdID string `json:"cmd_id"`
		}
		_ = json.Unmarshal(raw, &probe)
		c.reject(probe.CmdID, protocol.ErrBadCommand, err.Error(), s.runner.Metrics())
		return
	}
	var msg protocol.CommandMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reject("", protocol.ErrBadCommand, "malformed command", s.runner.Metrics())
		return
	}
	if msg.ProtocolVersion != protocol.Version {
		c.reject(msg.CmdID, protocol.ErrProtoVersion, "unsupported protocol_version", s.runner.Metrics())
		return
	}

	if !s.runner.Running() && s.runner.Err() != nil {
		c.reject(msg.CmdID, protocol.ErrWorldHalted, "simulation halted", s.runner.Metrics())
		return
	}

	cmd := msg.Command
	cmd.Origin = c.id
	if !s.runner.EnqueueCommand(cmd) {
		c.reject(msg.CmdID, protocol.ErrQueueFull, "command queue full", s.runner.Metrics())
	}
}

func (s *Server) handleEventBatch(c *session, raw []byte) {
	var req protocol.EventBatchReqMsg
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendMsg(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest, Message: "malformed EVENT_BATCH_REQ"})
		return
	}
	if s.cfg.History == nil {
		c.sendMsg(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrProtoBadRequest, Message: "event history disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rows, err := s.cfg.History.EventsSince(ctx, req.SinceCursor, req.Limit)
	if err != nil {
		if s.log != nil {
			s.log.Printf("event batch: %v", err)
		}
		c.sendMsg(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrInternal, Message: "event history unavailable"})
		return
	}

	items := make([]protocol.EventBatchItem, len(rows))
	next := req.SinceCursor
	for i, r := range rows {
		ev := engine.Event{Type: r.Type, Tick: r.Tick}
		if len(r.Payload) > 0 {
			ev.Payload = r.Payload
		}
		items[i] = protocol.EventBatchItem{Cursor: r.Cursor, Event: ev}
		next = r.Cursor
	}
	c.sendMsg(protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Events:          items,
		NextCursor:      next,
		WorldID:         s.cfg.WorldID,
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
