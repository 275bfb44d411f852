package engineio

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Opcode identifies the kind of an engine.io [Packet], as defined in
// https://github.com/socketio/engine.io-protocol/tree/v3.
type Opcode int

const (
	Open Opcode = iota
	Close
	Ping
	Pong
	Message
	Upgrade
	Noop
)

// String returns the opcode's name, or its number if it's unrecognized.
func (o Opcode) String() string {
	switch o {
	case Open:
		return "open"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Message:
		return "message"
	case Upgrade:
		return "upgrade"
	case Noop:
		return "noop"
	default:
		return strconv.Itoa(int(o))
	}
}

func (o Opcode) valid() bool {
	return o >= Open && o <= Noop
}

// Payload is the tagged-variant body of a [Packet]: exactly one of
// its two accessors is meaningful, distinguished by [Payload.IsBinary].
type Payload struct {
	isBinary bool
	text     string
	bytes    []byte
}

// String constructs a string-payload.
func String(s string) Payload {
	return Payload{text: s}
}

// Binary constructs a binary-payload.
func Binary(b []byte) Payload {
	return Payload{isBinary: true, bytes: b}
}

// IsBinary reports whether this payload carries bytes rather than text.
func (p Payload) IsBinary() bool {
	return p.isBinary
}

// Text returns the string form of the payload. It panics if the
// payload is binary; callers should check [Payload.IsBinary] first.
func (p Payload) Text() string {
	if p.isBinary {
		panic("engineio: Text() called on a binary payload")
	}
	return p.text
}

// Bytes returns the binary form of the payload. It panics if the
// payload is a string; callers should check [Payload.IsBinary] first.
func (p Payload) Bytes() []byte {
	if !p.isBinary {
		panic("engineio: Bytes() called on a string payload")
	}
	return p.bytes
}

// Equal reports whether two payloads carry the same kind and content.
func (p Payload) Equal(other Payload) bool {
	if p.isBinary != other.isBinary {
		return false
	}
	if p.isBinary {
		return string(p.bytes) == string(other.bytes)
	}
	return p.text == other.text
}

// Packet is an (opcode, payload) pair, the unit of engine.io framing.
type Packet struct {
	Opcode  Opcode
	Payload Payload
}

// Equal reports whether two packets have the same opcode and payload.
func (p Packet) Equal(other Packet) bool {
	return p.Opcode == other.Opcode && p.Payload.Equal(other.Payload)
}

// Encode serializes a single packet to its text form: "<digit><text>"
// for a string payload, or "b<digit><base64>" for a binary payload.
func Encode(p Packet) string {
	if p.Payload.IsBinary() {
		return "b" + strconv.Itoa(int(p.Opcode)) + base64.StdEncoding.EncodeToString(p.Payload.Bytes())
	}
	return strconv.Itoa(int(p.Opcode)) + p.Payload.Text()
}

// Decode parses the single-packet text form produced by [Encode].
func Decode(s string) (Packet, error) {
	if s == "" {
		return Packet{}, fmt.Errorf("%w: empty packet", io.ErrUnexpectedEOF)
	}

	if s[0] == 'b' {
		if len(s) < 2 {
			return Packet{}, fmt.Errorf("%w: missing opcode after 'b'", ErrInvalidData)
		}
		op := Opcode(s[1] - '0')
		if s[1] < '0' || s[1] > '9' || !op.valid() {
			return Packet{}, fmt.Errorf("%w: invalid opcode %q", ErrInvalidData, s[1])
		}
		b, err := base64.StdEncoding.DecodeString(s[2:])
		if err != nil {
			return Packet{}, fmt.Errorf("%w: %w: %w", ErrInvalidData, ErrBase64, err)
		}
		return Packet{Opcode: op, Payload: Binary(b)}, nil
	}

	if s[0] >= '0' && s[0] <= '6' {
		op := Opcode(s[0] - '0')
		if !utf8.ValidString(s[1:]) {
			return Packet{}, fmt.Errorf("%w: %w: payload is not valid UTF-8", ErrInvalidData, ErrUTF8)
		}
		return Packet{Opcode: op, Payload: String(s[1:])}, nil
	}

	return Packet{}, fmt.Errorf("%w: unrecognized packet prefix %q", ErrInvalidData, s[0])
}

// ComputeLength returns the number of Unicode scalar values the
// single-packet encoding of p occupies, i.e. the "N" of payload-wrapped
// framing ("N:<packet>"). It must agree exactly with char_count(Encode(p)).
func ComputeLength(p Packet) int {
	if p.Payload.IsBinary() {
		n := len(p.Payload.Bytes())
		return 2 + ((n+2)/3)*4
	}
	return 1 + utf8.RuneCountInString(p.Payload.Text())
}

// EncodePayload writes the payload-wrapped ("N:<packet>") form of a
// single packet to w.
func EncodePayload(w io.Writer, p Packet) error {
	enc := Encode(p)
	n := utf8.RuneCountInString(enc)
	_, err := io.WriteString(w, strconv.Itoa(n)+":"+enc)
	return err
}

// EncodePayloads writes the concatenation of the payload-wrapped form
// of every packet in ps to w, in order.
func EncodePayloads(w io.Writer, ps []Packet) error {
	for _, p := range ps {
		if err := EncodePayload(w, p); err != nil {
			return err
		}
	}
	return nil
}

// payloadLen returns the number of characters EncodePayload(w, p)
// would write: the length prefix's own digit count, the ':' separator,
// and the packet's own character length.
func payloadLen(p Packet) int {
	n := ComputeLength(p)
	return len(strconv.Itoa(n)) + 1 + n
}

// TotalPayloadLength returns the combined character length of the
// payload-wrapped encoding of every packet in ps.
func TotalPayloadLength(ps []Packet) int {
	total := 0
	for _, p := range ps {
		total += payloadLen(p)
	}
	return total
}

// DecodePayload reads one payload-wrapped packet from r: a decimal length
// prefix, a ':' separator, then exactly that many Unicode scalar values,
// decoded as a single packet.
func DecodePayload(r io.RuneReader) (Packet, error) {
	var prefix strings.Builder
	for {
		c, _, err := r.ReadRune()
		if err != nil {
			if err == io.EOF {
				if prefix.Len() == 0 {
					return Packet{}, io.EOF
				}
				return Packet{}, fmt.Errorf("%w: truncated length prefix", io.ErrUnexpectedEOF)
			}
			return Packet{}, err
		}
		if c == ':' {
			break
		}
		prefix.WriteRune(c)
	}

	n, err := strconv.Atoi(prefix.String())
	if err != nil || n < 0 {
		return Packet{}, fmt.Errorf("%w: invalid length prefix %q", ErrInvalidData, prefix.String())
	}

	var body strings.Builder
	for range n {
		c, _, err := r.ReadRune()
		if err != nil {
			if err == io.EOF {
				return Packet{}, fmt.Errorf("%w: truncated packet body", io.ErrUnexpectedEOF)
			}
			return Packet{}, err
		}
		body.WriteRune(c)
	}

	return Decode(body.String())
}

// DecodePayloads repeatedly decodes payload-wrapped packets from r until
// EOF. Any non-EOF decode error aborts the loop and is returned alongside
// the packets successfully decoded so far.
func DecodePayloads(r io.RuneReader) ([]Packet, error) {
	var packets []Packet
	for {
		p, err := DecodePayload(r)
		if err != nil {
			if err == io.EOF {
				return packets, nil
			}
			return packets, err
		}
		packets = append(packets, p)
	}
}

// DecodePayloadsString is a convenience wrapper of [DecodePayloads] for
// callers holding the whole buffer as a string, as polling GET/POST
// bodies are received.
func DecodePayloadsString(s string) ([]Packet, error) {
	return DecodePayloads(strings.NewReader(s))
}
