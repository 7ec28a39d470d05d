// Package messaging embeds a NATS broker and bridges the simulation onto
// it, so other processes can follow the world and inject commands without
// speaking the websocket protocol.
package messaging

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Broker is an in-process NATS server plus the internal client connection
// the bridge publishes through.
type Broker struct {
	ns   *server.Server
	conn *nats.Conn

	startupTimeout time.Duration
	host           string
	port           int
}

type BrokerOpt func(*Broker)

func WithStartTimeout(d time.Duration) BrokerOpt {
	return func(b *Broker) { b.startupTimeout = d }
}

func WithHost(host string) BrokerOpt {
	return func(b *Broker) { b.host = host }
}

// WithPort sets the listen port. Zero falls back to the NATS default, -1
// picks a free port.
func WithPort(port int) BrokerOpt {
	return func(b *Broker) { b.port = port }
}

func NewBroker(opts ...BrokerOpt) (*Broker, error) {
	b := &Broker{
		startupTimeout: 10 * time.Second,
		host:           "127.0.0.1",
	}
	for _, opt := range opts {
		opt(b)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   b.host,
		Port:   b.port,
		NoSigs: true, // Let the application handle signals
	})
	if err != nil {
		return nil, err
	}
	b.ns = ns
	return b, nil
}

// Start launches the server and opens the internal client connection.
func (b *Broker) Start() error {
	b.ns.Start()

	if !b.ns.ReadyForConnections(b.startupTimeout) {
		return fmt.Errorf("nats server not ready for connections")
	}

	conn, err := nats.Connect(b.ns.ClientURL())
	if err != nil {
		return fmt.Errorf("creating nats client connection: %w", err)
	}
	b.conn = conn
	return nil
}

// Shutdown closes the internal connection and stops the server, waiting
// for it to wind down.
func (b *Broker) Shutdown() {
	if b.conn != nil {
		b.conn.Close()
	}
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}

// ClientURL is the address external processes connect to.
func (b *Broker) ClientURL() string {
	return b.ns.ClientURL()
}

// Subscribe creates a subscription on the given subject.
// The handler is called for each message received.
// Returns an unsubscribe function to remove the subscription.
func (b *Broker) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	if b.conn == nil {
		return nil, fmt.Errorf("nats server not started")
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { sub.Unsubscribe() }, nil
}

// Publish sends a message to the given subject
func (b *Broker) Publish(subject string, data []byte) error {
	if b.conn == nil {
		return fmt.Errorf("nats server not started")
	}
	return b.conn.Publish(subject, data)
}
