package engineio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// probePayload is the fixed text payload of the probe ping/pong exchange,
// per spec.md §4.3.2 and the engine.io upgrade protocol (§6).
const probePayload = "probe"

// closeControlTimeout bounds how long a close control frame write may
// block, so a hung peer never wedges [wsTransport.abort].
const closeControlTimeout = time.Second

// buildWebSocketURL rewrites the connection's http(s) URL to ws(s) and
// appends the same query parameters as the polling transport, with
// "transport=websocket" in place of "transport=polling" (spec.md §4.3.1).
func buildWebSocketURL(base *url.URL, sid string) (string, error) {
	u := *base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: cannot derive a WebSocket URL from scheme %q", ErrInvalidState, u.Scheme)
	}

	q := u.Query()
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	q.Set("t", cacheBuster())
	q.Set("b64", "1")
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsTransport is the WebSocket half of an upgraded engine.io connection,
// built on [github.com/gorilla/websocket]. Each inbound WebSocket text
// message carries exactly one single-packet-encoded engine.io packet (no
// payload-wrapping), per spec.md §4.3.3.
type wsTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	incoming chan []byte
	writeMu  sync.Mutex
}

// readPump runs as a [wsTransport] goroutine, continuously reading
// messages off the connection and publishing their payloads until the
// connection errors or closes, at which point it closes incoming.
func (t *wsTransport) readPump() {
	defer close(t.incoming)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		t.incoming <- data
	}
}

// dialAndProbe performs the WebSocket connect-and-probe sequence of
// spec.md §4.3.2: dial, send Ping("probe"), and await Pong("probe")
// before declaring the upgrade candidate usable.
func dialAndProbe(ctx context.Context, cfg ConnectionConfig, session SessionDescriptor, base *url.URL, log *slog.Logger) (*wsTransport, error) {
	wsURL, err := buildWebSocketURL(base, session.SID)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for _, h := range cfg.ExtraHeaders {
		headers.Add(h.Name, h.Value)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: probe dial failed: %w", ErrWebSocket, err)
	}

	t := &wsTransport{conn: conn, logger: log, incoming: make(chan []byte)}
	go t.readPump()

	if err := t.send(Packet{Opcode: Ping, Payload: String(probePayload)}); err != nil {
		t.abort(websocket.CloseProtocolError)
		return nil, fmt.Errorf("%w: failed to send probe ping: %w", ErrWebSocket, err)
	}

	p, err := t.receive(ctx)
	if err != nil {
		t.abort(websocket.CloseGoingAway)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: connection closed before probe response", ErrWebSocket)
		}
		return nil, fmt.Errorf("%w: %w", ErrWebSocket, err)
	}
	if p.Opcode != Pong || p.Payload.IsBinary() || p.Payload.Text() != probePayload {
		t.abort(websocket.CloseProtocolError)
		return nil, fmt.Errorf("%w: unexpected probe response %q", ErrWebSocket, Encode(p))
	}

	if log != nil {
		log.Debug("websocket probe succeeded")
	}
	return t, nil
}

// send emits a single packet as one WebSocket text message.
func (t *wsTransport) send(p Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(Encode(p))); err != nil {
		return fmt.Errorf("%w: %w", ErrWebSocket, err)
	}
	return nil
}

// receive blocks for the next inbound packet. A closed incoming channel
// (server-initiated close, or a lower-layer error) surfaces as io.EOF,
// per spec.md §4.3.3 ("emit a stream-end signal... do not send extra
// frames").
func (t *wsTransport) receive(ctx context.Context) (Packet, error) {
	select {
	case data, ok := <-t.incoming:
		if !ok {
			return Packet{}, io.EOF
		}
		p, err := Decode(string(data))
		if err != nil {
			return Packet{}, fmt.Errorf("%w: %w", ErrWebSocket, err)
		}
		return p, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

// abort sends a WebSocket close control frame with the given code and
// tears down the underlying connection. Used for protocol violations and
// cancellation, where no engine.io Close packet precedes it, and by
// [wsTransport.close] right after it sends its Close packet.
func (t *wsTransport) abort(code int) {
	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeControlTimeout))
	t.writeMu.Unlock()

	_ = t.conn.Close()
}

// close performs the client-initiated half of spec.md §4.3.3: send a
// Close packet, then a normal WebSocket close. Nothing is sent when the
// server already initiated the closure.
func (t *wsTransport) close(initiator closeInitiator) {
	if initiator != closeByClient {
		return
	}
	if err := t.send(Packet{Opcode: Close, Payload: String("")}); err != nil && t.logger != nil {
		t.logger.Debug("failed to send close packet over websocket", slog.Any("error", err))
	}
	t.abort(websocket.CloseNormalClosure)
}
