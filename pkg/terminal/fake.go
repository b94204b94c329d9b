package terminal

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Reply is a simulated appliance's answer to one line of input.
type Reply struct {
	Output     string // text printed after the echoed input, usually ending with the prompt
	Prompt     string // prompt the appliance shows next
	Disconnect bool   // the appliance closed the connection
}

// Responder drives a FakeTransport. It is called once with empty input and
// prompt when the transport opens (the login banner), then once per complete
// input line. input keeps its trailing newline.
type Responder func(input, prompt string) Reply

// FakeTransport is an in-memory Transport backed by a Responder. It echoes
// every input line the way a console does before printing the reply.
type FakeTransport struct {
	respond Responder

	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
	prompt string
	open   bool
	closed bool
	writes []string
}

// NewFakeTransport returns a transport that answers through respond.
func NewFakeTransport(respond Responder) *FakeTransport {
	return &FakeTransport{respond: respond}
}

func (t *FakeTransport) Open(ctx context.Context, ep Endpoint) error {
	if err := ctx.Err(); err != nil {
		return NewConnectError(ConnectTimeout, ep.Host, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.respond == nil {
		return NewConnectError(ConnectGeneric, ep.Host, ErrMissingOption)
	}
	reply := t.respond("", "")
	t.output.Reset()
	t.output.WriteString(reply.Output)
	t.prompt = reply.Prompt
	t.open = true
	t.closed = reply.Disconnect
	return nil
}

func (t *FakeTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open || t.closed {
		return ErrTransportClosed
	}

	t.input.Write(p)
	for {
		pending := t.input.String()
		idx := strings.IndexByte(pending, '\n')
		if idx < 0 {
			return nil
		}
		line := pending[:idx+1]
		t.input.Reset()
		t.input.WriteString(pending[idx+1:])
		t.writes = append(t.writes, line)

		t.output.WriteString(line)
		reply := t.respond(line, t.prompt)
		t.output.WriteString(reply.Output)
		t.prompt = reply.Prompt
		if reply.Disconnect {
			t.closed = true
			return nil
		}
	}
}

// Poll returns pending output immediately. With nothing pending it waits d
// (so callers see time pass) or fails once the transport is closed.
func (t *FakeTransport) Poll(d time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.output.Len() > 0 {
		data := []byte(t.output.String())
		t.output.Reset()
		t.mu.Unlock()
		return data, nil
	}
	closed := t.closed || !t.open
	t.mu.Unlock()

	if closed {
		return nil, ErrTransportClosed
	}
	time.Sleep(d)
	return nil, nil
}

func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.open || t.closed
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Writes returns every complete line written so far, in order.
func (t *FakeTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}
