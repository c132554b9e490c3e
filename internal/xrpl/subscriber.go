package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/postfiatorg/pftnoded/internal/logging"
)

const (
	// Reconnect backoff bounds.
	reconnectMinDelay = 1 * time.Second
	reconnectMaxDelay = 60 * time.Second

	wsReadLimit     = 4 * 1024 * 1024
	wsWriteDeadline = 10 * time.Second
	wsPongWait      = 60 * time.Second
	wsPingInterval  = 54 * time.Second
)

// Subscriber maintains a WebSocket subscription to the validated
// transaction stream for a set of accounts. Configured endpoints are
// tried in order; on disconnect it reconnects with exponential backoff
// and invokes the reconnect hook so the owner can gap-fill.
type Subscriber struct {
	endpoints []string
	log       logging.Logger

	mu       sync.RWMutex
	accounts []string

	events      chan TxEnvelope
	onReconnect func()

	// resubscribe wakes the run loop when the account set changes.
	resubscribe chan struct{}
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(l logging.Logger) SubscriberOption {
	return func(s *Subscriber) { s.log = l }
}

// WithReconnectHook registers a function invoked after every successful
// (re)connection, before events flow. Owners use it to gap-fill.
func WithReconnectHook(fn func()) SubscriberOption {
	return func(s *Subscriber) { s.onReconnect = fn }
}

// NewSubscriber returns a subscriber over the given WebSocket endpoints.
func NewSubscriber(endpoints []string, accounts []string, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		endpoints:   endpoints,
		accounts:    append([]string(nil), accounts...),
		log:         logging.NopLogger{},
		events:      make(chan TxEnvelope, 256),
		resubscribe: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is the stream of validated transactions touching subscribed
// accounts. The channel closes when Run returns.
func (s *Subscriber) Events() <-chan TxEnvelope { return s.events }

// SetAccounts replaces the subscribed account set. The change takes
// effect by cycling the connection.
func (s *Subscriber) SetAccounts(accounts []string) {
	s.mu.Lock()
	s.accounts = append([]string(nil), accounts...)
	s.mu.Unlock()

	select {
	case s.resubscribe <- struct{}{}:
	default:
	}
}

func (s *Subscriber) currentAccounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.accounts...)
}

// Run connects and consumes the stream until ctx is cancelled. It never
// returns a connection error; failures rotate endpoints and back off.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.events)

	delay := reconnectMinDelay
	endpoint := 0

	for {
		if ctx.Err() != nil {
			return
		}

		url := s.endpoints[endpoint%len(s.endpoints)]
		err := s.runConn(ctx, url)
		if ctx.Err() != nil {
			return
		}

		s.log.Warn("subscription to %s ended: %v; reconnecting in %s", url, err, delay)
		endpoint++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// runConn drives a single connection: dial, subscribe, pump events.
// A nil-error return only happens on resubscription requests.
func (s *Subscriber) runConn(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	if err := s.sendSubscribe(conn); err != nil {
		return err
	}
	s.log.Info("subscribed to %s (%d accounts)", url, len(s.currentAccounts()))

	if s.onReconnect != nil {
		s.onReconnect()
	}

	// Reader goroutine feeds messages; the main loop owns writes.
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteDeadline))
			return ctx.Err()

		case <-s.resubscribe:
			// Cycle the connection so the new account set applies.
			return nil

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}

		case err := <-readErr:
			return fmt.Errorf("read failed: %w", err)

		case data, ok := <-msgs:
			if !ok {
				return <-readErr
			}
			s.handleMessage(ctx, data)
		}
	}
}

type subscribeCommand struct {
	ID         int      `json:"id"`
	Command    string   `json:"command"`
	Streams    []string `json:"streams"`
	Accounts   []string `json:"accounts,omitempty"`
	APIVersion int      `json:"api_version,omitempty"`
}

func (s *Subscriber) sendSubscribe(conn *websocket.Conn) error {
	cmd := subscribeCommand{
		ID:         1,
		Command:    "subscribe",
		Streams:    []string{"ledger"},
		Accounts:   s.currentAccounts(),
		APIVersion: 2,
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	return nil
}

// streamMessage is the type-discriminated shape of stream events.
type streamMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	envelopeJSON
}

func (s *Subscriber) handleMessage(ctx context.Context, data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("dropping malformed stream message: %v", err)
		return
	}

	switch msg.Type {
	case "transaction":
		if !msg.Validated {
			return
		}
		env, err := msg.envelope()
		if err != nil {
			s.log.Warn("dropping transaction event: %v", err)
			return
		}
		select {
		case s.events <- env:
		case <-ctx.Done():
		}
	case "ledgerClosed", "response", "":
		// Heartbeats and command acknowledgements.
	default:
		s.log.Debug("ignoring %s stream message", msg.Type)
	}
}
