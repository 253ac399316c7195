package psp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/voltproxy/internal/rpc"
)

// Transport errors.
var (
	// ErrTransportClosed indicates the connection to the plugin server is gone.
	ErrTransportClosed = errors.New("plugin server transport closed")
)

// ReplyFn receives the reply to one asynchronous call. Exactly one of result
// and rerr is meaningful. A registered ReplyFn fires exactly once, with a
// transport error if the connection closes first.
type ReplyFn func(result json.RawMessage, rerr *rpc.Error)

// TransportHandlers receives traffic the plugin server initiates. Handlers
// run on the read loop and must not block; hand work off instead.
type TransportHandlers struct {
	// Notification is called for server-initiated notifications.
	Notification func(method string, params json.RawMessage)

	// Request is called for server-initiated requests and must return the
	// response. A nil Request handler rejects with "method not found".
	Request func(method string, params json.RawMessage) (any, *rpc.Error)

	// RequestAsync, when set, takes precedence over Request. The handler
	// answers by calling reply, from any goroutine, at most once; extra
	// calls are ignored.
	RequestAsync func(method string, params json.RawMessage, reply func(result any, rerr *rpc.Error))
}

// Transport is a JSON-RPC 2.0 connection to a plugin server over stdio,
// framed with Content-Length headers. Replies are delivered through
// callbacks registered per request id.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]ReplyFn
	handlers TransportHandlers

	closed atomic.Bool
	done   chan struct{}
}

// request is the outgoing JSON-RPC message shape.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the outgoing reply shape for server-initiated requests.
type response struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int64      `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *rpc.Error `json:"error,omitempty"`
}

// NewTransport creates a transport over the given streams. The handlers may
// be zero-valued when the caller only issues requests.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, handlers TransportHandlers) *Transport {
	return &Transport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		closer:   c,
		pending:  make(map[int64]ReplyFn),
		handlers: handlers,
		done:     make(chan struct{}),
	}
}

// Start begins reading messages from the connection.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close tears the connection down. Every pending reply callback fires once
// with a transport-closed error.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)

	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]ReplyFn)
	t.mu.Unlock()

	closeErr := &rpc.Error{Code: rpc.CodeInternalError, Message: ErrTransportClosed.Error()}
	for _, fn := range pending {
		fn(nil, closeErr)
	}

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// CallAsync sends a request and registers cb for its reply. When the send
// fails, cb fires immediately with the failure.
func (t *Transport) CallAsync(method string, params any, cb ReplyFn) {
	if t.closed.Load() {
		cb(nil, &rpc.Error{Code: rpc.CodeInternalError, Message: ErrTransportClosed.Error()})
		return
	}

	id := t.nextID.Add(1)
	t.mu.Lock()
	t.pending[id] = cb
	t.mu.Unlock()

	req := &request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := t.send(req); err != nil {
		t.mu.Lock()
		_, still := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if still {
			cb(nil, &rpc.Error{Code: rpc.CodeInternalError, Message: err.Error()})
		}
	}
}

// Call sends a request and waits for the reply.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	type reply struct {
		result json.RawMessage
		rerr   *rpc.Error
	}
	ch := make(chan reply, 1)

	t.CallAsync(method, params, func(result json.RawMessage, rerr *rpc.Error) {
		ch <- reply{result: result, rerr: rerr}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.rerr != nil {
			return r.rerr
		}
		if result != nil && len(r.result) > 0 {
			if err := json.Unmarshal(r.result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no reply expected).
func (t *Transport) Notify(method string, params any) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.send(&request{JSONRPC: "2.0", Method: method, Params: params})
}

// respond answers a server-initiated request.
func (t *Transport) respond(id int64, result any, rerr *rpc.Error) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.send(&response{JSONRPC: "2.0", ID: id, Result: result, Error: rerr})
}

// send writes one message with the Content-Length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readLoop reads messages until the connection or context ends.
func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() || err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			continue
		}

		t.dispatch(msg)
	}
}

// readMessage reads one framed message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if length, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					contentLength = length
				}
			}
		}
		// Other headers (Content-Type) are ignored.
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// dispatch routes one incoming message.
func (t *Transport) dispatch(data json.RawMessage) {
	var probe struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Error  *rpc.Error      `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return
	}

	switch {
	case probe.ID != nil && probe.Method == "":
		t.handleReply(*probe.ID, probe.Result, probe.Error)

	case probe.ID != nil:
		t.handleRequest(*probe.ID, probe.Method, paramsOf(data))

	case probe.Method != "":
		if t.handlers.Notification != nil {
			t.handlers.Notification(probe.Method, paramsOf(data))
		}
	}
}

// paramsOf extracts the raw params field.
func paramsOf(data json.RawMessage) json.RawMessage {
	var msg struct {
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	return msg.Params
}

// handleReply fires the callback registered for a request id. Replies for
// unknown ids are dropped.
func (t *Transport) handleReply(id int64, result json.RawMessage, rerr *rpc.Error) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	cb, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok {
		cb(result, rerr)
	}
}

// handleRequest answers a server-initiated request.
func (t *Transport) handleRequest(id int64, method string, params json.RawMessage) {
	if t.handlers.RequestAsync != nil {
		var once sync.Once
		t.handlers.RequestAsync(method, params, func(result any, rerr *rpc.Error) {
			once.Do(func() { _ = t.respond(id, result, rerr) })
		})
		return
	}
	if t.handlers.Request == nil {
		_ = t.respond(id, nil, &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "method not found: " + method})
		return
	}
	result, rerr := t.handlers.Request(method, params)
	_ = t.respond(id, result, rerr)
}
