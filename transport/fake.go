package transport

// Fake is an in-process transport.Conn used by reactor tests to script
// request/cancellation sequences without a real socket.
type Fake struct {
	inbox     []Request
	responses []Response
	events    []Event
	closed    bool
}

// NewFake builds an empty fake transport.
func NewFake() *Fake {
	return &Fake{}
}

// Enqueue appends a request the next NextRequest calls will return, in
// order, before finally returning ErrWouldBlock.
func (f *Fake) Enqueue(req Request) {
	f.inbox = append(f.inbox, req)
}

// NextRequest implements transport.Conn.
func (f *Fake) NextRequest() (Request, error) {
	if len(f.inbox) == 0 {
		return Request{}, ErrWouldBlock
	}

	req := f.inbox[0]
	f.inbox = f.inbox[1:]
	return req, nil
}

// WriteResponse implements transport.Conn.
func (f *Fake) WriteResponse(resp Response) error {
	f.responses = append(f.responses, resp)
	return nil
}

// WriteEvent implements transport.Conn.
func (f *Fake) WriteEvent(ev Event) error {
	f.events = append(f.events, ev)
	return nil
}

// Close implements transport.Conn.
func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Responses returns every response written so far, in order.
func (f *Fake) Responses() []Response { return f.responses }

// Events returns every event written so far, in order.
func (f *Fake) Events() []Event { return f.events }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed }
