package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_LineFramingRoundTrip(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	tr := NewTransport(in, &out)

	req, err := tr.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "tools/list", req.Method)

	require.NoError(t, tr.WriteResponse(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}))
	assert.True(t, strings.HasSuffix(out.String(), "\n"), "line framing terminates each response with a newline")

	_, err = tr.ReadRequest()
	assert.Equal(t, io.EOF, err, "closed input signals graceful shutdown")
}

func TestTransport_MalformedLineIsAParseErrorNotEOF(t *testing.T) {
	in := strings.NewReader("{not json}\n")
	tr := NewTransport(in, &bytes.Buffer{})

	_, err := tr.ReadRequest()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestTransport_LengthFramingRoundTrip(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":7,"method":"ping"}`
	in := strings.NewReader("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body)
	var out bytes.Buffer
	tr := NewTransportWithFraming(in, &out, FramingLength)

	req, err := tr.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "ping", req.Method)

	require.NoError(t, tr.WriteResponse(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}))
	assert.True(t, strings.HasPrefix(out.String(), "Content-Length: "), "length framing prefixes each response with its header")

	_, err = tr.ReadRequest()
	assert.Equal(t, io.EOF, err)
}

func TestTransport_LengthFramingMissingHeaderIsAParseError(t *testing.T) {
	in := strings.NewReader("\r\n")
	tr := NewTransportWithFraming(in, &bytes.Buffer{}, FramingLength)

	_, err := tr.ReadRequest()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}
