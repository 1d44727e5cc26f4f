package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Framing selects how requests and responses are delimited on the stdio
// stream: one JSON document per line (the default), or Content-Length
// headers for editors that require LSP-style framing.
type Framing string

const (
	FramingLine   Framing = "line"
	FramingLength Framing = "length"
)

// Transport reads framed JSON-RPC requests from r and writes responses to
// w, serialized one at a time so no partial JSON ever interleaves on the
// wire: a persistent stdio reader/writer pair, one request body per
// frame.
type Transport struct {
	framing Framing
	scanner *bufio.Scanner
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
}

// NewTransport wraps r/w with newline framing. The scanner buffer is sized
// generously because a single tools/call request (e.g. an inline Code-API
// pipeline) can be large.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return NewTransportWithFraming(r, w, FramingLine)
}

// NewTransportWithFraming wraps r/w with the given framing mode. An
// unrecognized mode falls back to newline framing.
func NewTransportWithFraming(r io.Reader, w io.Writer, framing Framing) *Transport {
	t := &Transport{framing: framing, writer: bufio.NewWriter(w)}
	if framing == FramingLength {
		t.reader = bufio.NewReaderSize(r, 64*1024)
	} else {
		t.framing = FramingLine
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		t.scanner = scanner
	}
	return t
}

// ParseError wraps a malformed request frame. The dispatcher treats it as a
// single bad request (respond with a JSON-RPC parse error, keep serving)
// rather than a transport failure (stop the loop).
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// ReadRequest blocks for the next frame of input and parses it as a
// Request. It returns io.EOF when the client has closed stdin, signaling
// graceful shutdown. A frame that fails to parse as
// JSON-RPC returns a *ParseError instead of terminating the stream — one
// malformed request must not take the whole server down.
func (t *Transport) ReadRequest() (Request, error) {
	if t.framing == FramingLength {
		return t.readLengthFramed()
	}
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return Request{}, err
		}
		return Request{}, io.EOF
	}
	line := t.scanner.Bytes()
	if len(line) == 0 {
		return t.ReadRequest()
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, &ParseError{Err: err}
	}
	return req, nil
}

// readLengthFramed parses one Content-Length header block and its body.
func (t *Transport) readLengthFramed() (Request, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return Request{}, io.EOF
			}
			return Request{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return Request{}, &ParseError{Err: fmt.Errorf("bad Content-Length: %w", err)}
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return Request{}, &ParseError{Err: fmt.Errorf("missing Content-Length header")}
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, &ParseError{Err: err}
	}
	return req, nil
}

// WriteResponse serializes resp and writes it as a single frame, guarded by
// a mutex so concurrent tool executors never interleave writes.
func (t *Transport) WriteResponse(resp Response) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	b, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		return err
	}
	if t.framing == FramingLength {
		if _, err := fmt.Fprintf(t.writer, "Content-Length: %d\r\n\r\n", len(b)); err != nil {
			return err
		}
		if _, err := t.writer.Write(b); err != nil {
			return err
		}
		return t.writer.Flush()
	}
	if _, err := t.writer.Write(b); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}
