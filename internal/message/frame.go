package message

import (
	"bufio"
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

const (
	// DefaultMaxLineSize is the largest frame a Decoder accepts.
	DefaultMaxLineSize = 1024 * 1024 // 1MB

	// readBufferSize is the bufio buffer used by Decoder.
	readBufferSize = 64 * 1024

	// maxRawInError caps the raw text kept in a ParseError.
	maxRawInError = 256
)

// idPattern recovers an id from a line that is not valid JSON.
var idPattern = regexp.MustCompile(`"id"\s*:\s*(-?\d+(?:\.\d+)?|"(?:[^"\\]|\\.)*")`)

// Marshal encodes a message as one compact line terminated by '\n'.
func Marshal(msg *Message) ([]byte, error) {
	m := *msg
	if m.JSONRPC == "" {
		m.JSONRPC = Version
	}

	data, err := json.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	return append(data, '\n'), nil
}

// Encoder writes messages to a stream.
//
// Encode is safe for concurrent use. Each message is written with exactly
// one Write call while holding the encoder lock.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg followed by a line terminator.
func (e *Encoder) Encode(msg *Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Decoder reads messages from a stream.
//
// A Decoder is not safe for concurrent use; one goroutine owns it.
type Decoder struct {
	r       *bufio.Reader
	maxLine int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) DecoderOption {
	return func(d *Decoder) {
		d.maxLine = n
	}
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:       bufio.NewReaderSize(r, readBufferSize),
		maxLine: DefaultMaxLineSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Decode returns the next message.
//
// Blank lines are skipped. A line that cannot be parsed yields a
// *errors.ParseError and the decoder stays usable. At end of stream Decode
// returns io.EOF; a final line without terminator is still decoded first.
func (d *Decoder) Decode() (*Message, error) {
	for {
		line, err := d.readLine()
		if stderrors.Is(err, errors.ErrLineTooLong) {
			return nil, &errors.ParseError{Err: err}
		}

		if err != nil {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		return Parse(line)
	}
}

// readLine returns the next line, including its terminator. An overlong
// line is consumed in full and reported as ErrLineTooLong.
func (d *Decoder) readLine() ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)

	for {
		chunk, err := d.r.ReadSlice('\n')

		if !tooLong {
			if len(line)+len(chunk) > d.maxLine {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, errors.ErrLineTooLong
			}

			return line, nil

		case stderrors.Is(err, bufio.ErrBufferFull):
			continue

		case stderrors.Is(err, io.EOF):
			if tooLong {
				return nil, errors.ErrLineTooLong
			}

			if len(line) == 0 {
				return nil, io.EOF
			}

			return line, nil

		default:
			return nil, fmt.Errorf("read line: %w", err)
		}
	}
}

// Parse decodes one frame and checks its structure.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, newParseError(data, err)
	}

	if len(msg.ID) > 0 && !validID(msg.ID) {
		return nil, newParseError(data, fmt.Errorf("id must be a number, string or null"))
	}

	hasResult := len(msg.Result) > 0

	switch {
	case msg.Method == "" && !hasResult && msg.Error == nil:
		return nil, newParseError(data, fmt.Errorf("message has neither method nor result/error"))
	case hasResult && msg.Error != nil:
		return nil, newParseError(data, fmt.Errorf("response has both result and error"))
	}

	return &msg, nil
}

func validID(id json.RawMessage) bool {
	switch c := id[0]; {
	case c == '"', c == 'n', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return false
	}
}

func newParseError(data []byte, err error) *errors.ParseError {
	pe := &errors.ParseError{Err: err}

	raw := string(data)
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError]
	}

	pe.Raw = raw

	if m := idPattern.FindSubmatch(data); m != nil {
		pe.ID = json.RawMessage(bytes.Clone(m[1]))
	}

	return pe
}

// RecoveredID returns the id recovered by a ParseError as a raw message id.
func RecoveredID(err *errors.ParseError) json.RawMessage {
	if id, ok := err.ID.(json.RawMessage); ok {
		return id
	}

	return nil
}
