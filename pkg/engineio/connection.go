package engineio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/tzrikka/engineio/internal/logger"
)

// Connection is an established engine.io session. It starts out backed by
// the long-polling transport, and transparently upgrades to WebSocket in
// the background when the server advertises support for it (spec.md §4.3).
//
// A Connection is safe for concurrent use by one sender and one receiver
// goroutine; [Connection.Send] and [Connection.Receive] may run
// concurrently with each other, but neither is safe to call concurrently
// with itself.
type Connection struct {
	cfg     ConnectionConfig
	base    *url.URL
	session SessionDescriptor
	client  *http.Client
	logger  *slog.Logger

	pollSender   *pollingSender
	pollReceiver *pollingReceiver
	pollDone     atomic.Bool

	ws     atomic.Pointer[wsTransport]
	wsOnce sync.Once

	closeOnce sync.Once
}

// Connect performs the engine.io handshake, establishes the long-polling
// transport, and - if the server allows it - kicks off a background
// WebSocket upgrade attempt (spec.md §4.1/§4.3).
func Connect(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	log := logger.FromContext(ctx)

	client := &http.Client{}
	session, err := getData(ctx, cfg, client, log)
	if err != nil {
		return nil, err
	}

	base, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	sender, receiver, err := newPollingTransport(ctx, cfg, session, client, log)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:          cfg,
		base:         base,
		session:      session,
		client:       client,
		logger:       log,
		pollSender:   sender,
		pollReceiver: receiver,
	}

	if session.supportsWebSocketUpgrade() {
		go c.attemptUpgrade(ctx)
	}

	return c, nil
}

// SID returns the session ID assigned during the handshake.
func (c *Connection) SID() string {
	return c.session.SID
}

// Upgraded reports whether the connection has successfully switched to
// the WebSocket transport.
func (c *Connection) Upgraded() bool {
	return c.ws.Load() != nil
}

// attemptUpgrade runs as a background goroutine for the lifetime of a
// single upgrade attempt: dial, probe, and - on success - commit the
// switch by sending an Upgrade packet over the still-active long-polling
// transport (spec.md §4.3.2/§6, "probe, then commit, don't just switch").
func (c *Connection) attemptUpgrade(ctx context.Context) {
	t, err := dialAndProbe(ctx, c.cfg, c.session, c.base, c.logger)
	if err != nil {
		c.logger.Debug("websocket upgrade probe failed, staying on long-polling", slog.Any("error", err))
		return
	}

	if err := c.pollSender.send(ctx, []Packet{{Opcode: Upgrade, Payload: String("")}}); err != nil {
		c.logger.Debug("failed to commit websocket upgrade", slog.Any("error", err))
		t.abort(websocket.CloseGoingAway)
		return
	}

	c.wsOnce.Do(func() {
		c.ws.Store(t)
		c.logger.Debug("connection upgraded to websocket", slog.String("sid", c.session.SID))
	})

	// No further long-polling GET requests should be issued once the
	// upgrade has been committed. Any long-polling response already in
	// flight still gets delivered through [Connection.Receive], which
	// drains pollReceiver's buffered packets before switching over; this
	// signal only prevents new polls from being started afterwards.
	c.pollSender.shared.signalClose()
}

// Send transmits a packet over whichever transport is currently active,
// preferring WebSocket once the upgrade has completed (spec.md §4.3.3).
func (c *Connection) Send(ctx context.Context, p Packet) error {
	if t := c.ws.Load(); t != nil {
		return t.send(p)
	}
	return c.pollSender.send(ctx, []Packet{p})
}

// Receive blocks for the next packet. It drains every packet the
// long-polling transport has buffered or has in flight before delivering
// any packet received over WebSocket, preserving delivery order across
// the upgrade (spec.md §4.3.3, the upgrade's ordering guarantee).
func (c *Connection) Receive(ctx context.Context) (Packet, error) {
	if !c.pollDone.Load() {
		p, err := c.pollReceiver.poll(ctx)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, io.EOF):
			c.pollDone.Store(true)
		default:
			return Packet{}, err
		}
	}

	t := c.ws.Load()
	if t == nil {
		return Packet{}, io.EOF
	}
	return t.receive(ctx)
}

// Close initiates a client-side shutdown of the connection: a Close
// packet over whichever transport is active, and teardown of both
// transports' background state.
func (c *Connection) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if t := c.ws.Load(); t != nil {
			t.close(closeByClient)
		} else {
			err = c.pollSender.close(ctx, closeByClient)
		}
		c.pollSender.shared.signalClose()
	})
	return err
}
