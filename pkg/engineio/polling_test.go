package engineio

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetDataHandshake(t *testing.T) {
	body := `79:0{"sid":"abc","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":5000}`

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer s.Close()

	cfg := ConnectionConfig{URL: s.URL + "/engine.io/"}
	got, err := getData(t.Context(), cfg, s.Client(), discardLogger())
	if err != nil {
		t.Fatalf("getData() error = %v", err)
	}

	want := SessionDescriptor{
		SID:          "abc",
		PingInterval: 25000 * time.Millisecond,
		PingTimeout:  5000 * time.Millisecond,
		Upgrades:     []string{"websocket"},
	}
	if got.SID != want.SID || got.PingInterval != want.PingInterval || got.PingTimeout != want.PingTimeout {
		t.Errorf("getData() = %+v, want %+v", got, want)
	}
	if !got.supportsWebSocketUpgrade() {
		t.Errorf("getData() SessionDescriptor does not advertise websocket upgrade")
	}
}

func TestGetDataMissingOpenPacket(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf strings.Builder
		_ = EncodePayload(&buf, Packet{Opcode: Message, Payload: String("not a handshake")})
		_, _ = w.Write([]byte(buf.String()))
	}))
	defer s.Close()

	cfg := ConnectionConfig{URL: s.URL + "/engine.io/"}
	if _, err := getData(t.Context(), cfg, s.Client(), discardLogger()); err == nil {
		t.Error("getData() with no open packet: want error, got nil")
	}
}

func TestGetDataNon2xx(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer s.Close()

	cfg := ConnectionConfig{URL: s.URL + "/engine.io/"}
	if _, err := getData(t.Context(), cfg, s.Client(), discardLogger()); err == nil {
		t.Error("getData() with HTTP 500: want error, got nil")
	}
}

func newTestShared(t *testing.T, serverURL string, session SessionDescriptor) *pollingShared {
	t.Helper()
	base, err := (ConnectionConfig{URL: serverURL + "/engine.io/"}).validate()
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	return &pollingShared{
		cfg:     ConnectionConfig{URL: serverURL + "/engine.io/"},
		base:    base,
		session: session,
		client:  http.DefaultClient,
		logger:  discardLogger(),
		closeCh: make(chan struct{}),
	}
}

// TestPollingReceiverSilentRepoll exercises scenario 5: the server holds
// the GET past the client's per-request timeout twice (a normal
// long-polling no-data response), and the receiver must keep polling
// silently as long as it's within ping_timeout, then deliver the one
// packet the server eventually sends.
func TestPollingReceiverSilentRepoll(t *testing.T) {
	var calls atomic.Int32

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			time.Sleep(60 * time.Millisecond)
			return
		}
		var buf strings.Builder
		_ = EncodePayload(&buf, Packet{Opcode: Message, Payload: String("hi")})
		_, _ = w.Write([]byte(buf.String()))
	}))
	defer s.Close()

	session := SessionDescriptor{
		SID:          "abc",
		PingInterval: 30 * time.Millisecond,
		PingTimeout:  300 * time.Millisecond,
	}
	shared := newTestShared(t, s.URL, session)
	r := &pollingReceiver{shared: shared}

	p, err := r.poll(t.Context())
	if err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	want := Packet{Opcode: Message, Payload: String("hi")}
	if !p.Equal(want) {
		t.Errorf("poll() = %+v, want %+v", p, want)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server received %d requests, want 3", got)
	}
}

func TestPollingReceiverTimeoutBeyondPingTimeout(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		time.Sleep(60 * time.Millisecond)
	}))
	defer s.Close()

	session := SessionDescriptor{
		SID:          "abc",
		PingInterval: 20 * time.Millisecond,
		PingTimeout:  30 * time.Millisecond,
	}
	shared := newTestShared(t, s.URL, session)
	r := &pollingReceiver{shared: shared}

	if _, err := r.poll(t.Context()); err == nil {
		t.Error("poll() past ping_timeout: want error, got nil")
	}
	if _, err := r.poll(t.Context()); err == nil {
		t.Error("poll() after a terminal error: want io.EOF, got nil")
	}
}

func TestPollingReceiverSurfacesClosePacket(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf strings.Builder
		_ = EncodePayload(&buf, Packet{Opcode: Close, Payload: String("")})
		_, _ = w.Write([]byte(buf.String()))
	}))
	defer s.Close()

	session := SessionDescriptor{
		SID:          "abc",
		PingInterval: time.Second,
		PingTimeout:  time.Second,
	}
	shared := newTestShared(t, s.URL, session)
	r := &pollingReceiver{shared: shared}

	p, err := r.poll(t.Context())
	if err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if p.Opcode != Close {
		t.Errorf("poll() opcode = %v, want Close", p.Opcode)
	}

	if _, err := r.poll(t.Context()); err == nil {
		t.Error("poll() after a close packet: want io.EOF, got nil")
	}
}

func TestPollingSenderSendAndClose(t *testing.T) {
	var gotBody string
	var gotQuery url.Values

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer s.Close()

	session := SessionDescriptor{
		SID:          "abc",
		PingInterval: time.Second,
		PingTimeout:  time.Second,
	}
	shared := newTestShared(t, s.URL, session)
	sender := &pollingSender{shared: shared}

	packets := []Packet{{Opcode: Message, Payload: String("Hello World")}}
	if err := sender.send(t.Context(), packets); err != nil {
		t.Fatalf("send() error = %v", err)
	}
	if want := "12:4Hello World"; gotBody != want {
		t.Errorf("send() POST body = %q, want %q", gotBody, want)
	}
	if gotQuery.Get("sid") != "abc" {
		t.Errorf("send() sid query = %q, want %q", gotQuery.Get("sid"), "abc")
	}
	if gotQuery.Get("transport") != "polling" {
		t.Errorf("send() transport query = %q, want %q", gotQuery.Get("transport"), "polling")
	}

	if err := sender.close(t.Context(), closeByClient); err != nil {
		t.Fatalf("close() error = %v", err)
	}
	if !shared.isClosed() {
		t.Error("close() did not signal the shared close channel")
	}
	if want := Encode(Packet{Opcode: Close, Payload: String("")}); !strings.Contains(gotBody, want) {
		t.Errorf("close() POST body = %q, want it to contain %q", gotBody, want)
	}
}
