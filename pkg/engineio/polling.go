package engineio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tzrikka/engineio/internal/logger"
)

// buildPollingURL appends the query parameters every polling request
// carries (spec.md §4.2.1): EIO, transport, a cache-busting "t", b64, and
// "sid" once a session exists.
func buildPollingURL(base *url.URL, sid string) string {
	u := *base
	q := u.Query()
	q.Set("EIO", "3")
	q.Set("transport", "polling")
	q.Set("t", cacheBuster())
	q.Set("b64", "1")
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// doPollingRequest issues a single HTTP request with the given method and
// body, attaches the config's extra headers, bounds it by timeout, and
// returns the response body on any 2xx status. A non-2xx status fails
// with [ErrInvalidData], per spec.md §4.2.3/§4.2.4.
func doPollingRequest(ctx context.Context, client *http.Client, cfg ConnectionConfig, method, reqURL string, body io.Reader, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to construct polling request: %w", ErrIO, err)
	}
	cfg.applyHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read polling response body: %w", ErrIO, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: polling request returned HTTP %d", ErrInvalidData, resp.StatusCode)
	}

	return respBody, nil
}

// isRequestTimeout reports whether err is the context deadline that
// doPollingRequest's own per-request timeout triggered, as opposed to
// some other network failure.
func isRequestTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// getData performs the engine.io handshake (spec.md §4.2.2): a single
// GET with no "sid", whose response body is a payload-wrapped sequence
// of packets. The first packet that decodes as an "open" handshake wins.
func getData(ctx context.Context, cfg ConnectionConfig, client *http.Client, log *slog.Logger) (SessionDescriptor, error) {
	base, err := cfg.validate()
	if err != nil {
		return SessionDescriptor{}, err
	}

	reqURL := buildPollingURL(base, "")
	body, err := doPollingRequest(ctx, client, cfg, http.MethodGet, reqURL, nil, defaultHandshakeTimeout)
	if err != nil {
		log.Error("engine.io handshake request failed", slog.Any("error", err))
		return SessionDescriptor{}, err
	}

	packets, err := DecodePayloadsString(string(body))
	if err != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: failed to decode handshake response: %w", ErrInvalidData, err)
	}

	for _, p := range packets {
		if p.Opcode != Open || p.Payload.IsBinary() {
			continue
		}
		sd, err := parseSessionDescriptor(p.Payload.Text())
		if err != nil {
			log.Debug("skipping undecodable open packet in handshake response", slog.Any("error", err))
			continue
		}
		log.Debug("engine.io handshake complete", slog.String("sid", sd.SID), slog.Any("upgrades", sd.Upgrades))
		return sd, nil
	}

	return SessionDescriptor{}, fmt.Errorf("%w: handshake packet missing", ErrInvalidData)
}

// pollingShared is the immutable (after construction) state and the
// one-shot close signal that both halves of the long-polling transport
// share, per spec.md §4.2.
type pollingShared struct {
	cfg     ConnectionConfig
	base    *url.URL
	session SessionDescriptor
	client  *http.Client
	logger  *slog.Logger

	closeCh   chan struct{}
	closeOnce sync.Once
}

func (s *pollingShared) signalClose() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}

func (s *pollingShared) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// pollingSender is the send half of the long-polling transport.
type pollingSender struct {
	shared *pollingShared
}

// pollingReceiver is the receive half of the long-polling transport. It
// implements the state machine of spec.md §4.2.3 (Empty, Waiting, Ready,
// Closed), collapsed into the single blocking [pollingReceiver.poll] call.
type pollingReceiver struct {
	shared *pollingShared

	pending   []Packet
	pollStart time.Time
	terminal  bool
}

// newPollingTransport constructs the sender/receiver pair for an
// already-completed handshake.
func newPollingTransport(ctx context.Context, cfg ConnectionConfig, session SessionDescriptor, client *http.Client, log *slog.Logger) (*pollingSender, *pollingReceiver, error) {
	base, err := cfg.validate()
	if err != nil {
		return nil, nil, err
	}

	shared := &pollingShared{
		cfg:     cfg,
		base:    base,
		session: session,
		client:  client,
		logger:  logger.FromContext(ctx),
		closeCh: make(chan struct{}),
	}
	if log != nil {
		shared.logger = log
	}

	return &pollingSender{shared: shared}, &pollingReceiver{shared: shared}, nil
}

// send POSTs packets as a single payload-wrapped body (spec.md §4.2.4).
func (s *pollingSender) send(ctx context.Context, packets []Packet) error {
	if s.shared.isClosed() {
		return fmt.Errorf("%w: long-polling sender is closed", ErrInvalidState)
	}

	n := TotalPayloadLength(packets)
	var buf strings.Builder
	buf.Grow(n)
	if err := EncodePayloads(&buf, packets); err != nil {
		return fmt.Errorf("%w: failed to encode outgoing packets: %w", ErrInvalidData, err)
	}

	reqURL := buildPollingURL(s.shared.base, s.shared.session.SID)
	_, err := doPollingRequest(ctx, s.shared.client, s.shared.cfg, http.MethodPost, reqURL,
		strings.NewReader(buf.String()), s.shared.session.PingInterval)
	if err != nil {
		s.shared.logger.Error("long-polling POST failed", slog.Any("error", err))
		return err
	}

	s.shared.logger.Debug("long-polling POST succeeded", slog.Int("packets", len(packets)))
	return nil
}

// closeInitiator distinguishes who is tearing down the transport, per
// spec.md §4.2.4.
type closeInitiator int

const (
	closeByClient closeInitiator = iota
	closeByServer
)

// close signals the receiver to stop polling and, if the client
// initiated the close, sends a single Close packet to the server.
func (s *pollingSender) close(ctx context.Context, initiator closeInitiator) error {
	s.shared.signalClose()

	if initiator == closeByServer {
		return nil
	}

	reqURL := buildPollingURL(s.shared.base, s.shared.session.SID)
	buf := Encode(Packet{Opcode: Close, Payload: String("")})
	body := strconv.Itoa(len(buf)) + ":" + buf
	_, err := doPollingRequest(ctx, s.shared.client, s.shared.cfg, http.MethodPost, reqURL,
		strings.NewReader(body), s.shared.session.PingInterval)
	return err
}

// poll blocks until a packet is available, the transport closes, or an
// unrecoverable error occurs. Once it has returned an error or io.EOF,
// every subsequent call returns io.EOF, per spec.md §7.
func (r *pollingReceiver) poll(ctx context.Context) (Packet, error) {
	for {
		if r.terminal {
			return Packet{}, io.EOF
		}

		if len(r.pending) > 0 {
			p := r.pending[0]
			r.pending = r.pending[1:]
			if p.Opcode == Close {
				r.shared.logger.Debug("long-polling receiver observed a close packet")
				r.terminal = true
			}
			return p, nil
		}

		if r.shared.isClosed() {
			r.terminal = true
			return Packet{}, io.EOF
		}

		if r.pollStart.IsZero() {
			r.pollStart = time.Now()
		}

		reqURL := buildPollingURL(r.shared.base, r.shared.session.SID)
		body, err := doPollingRequest(ctx, r.shared.client, r.shared.cfg, http.MethodGet, reqURL, nil, r.shared.session.PingInterval)
		if err != nil {
			if isRequestTimeout(err) && time.Since(r.pollStart) <= r.shared.session.PingTimeout {
				// Within the ping-timeout window: a normal no-data
				// response from a server holding the request open.
				// Silently re-poll (Waiting -> Empty -> Waiting).
				continue
			}

			r.terminal = true
			if isRequestTimeout(err) {
				return Packet{}, fmt.Errorf("%w: long-polling GET exceeded ping timeout: %w", ErrIO, err)
			}
			return Packet{}, err
		}

		r.pollStart = time.Time{}

		packets, err := DecodePayloadsString(string(body))
		if err != nil {
			r.terminal = true
			return Packet{}, fmt.Errorf("%w: failed to decode polling response: %w", ErrInvalidData, err)
		}
		if len(packets) == 0 {
			// An empty response body is a valid "no packets yet" answer.
			continue
		}

		r.pending = packets
	}
}
