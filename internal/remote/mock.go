package remote

import (
	"context"
	"sync"
)

// MockOpener is a test implementation of Opener. Tests drive the session
// through the recorded callbacks.
type MockOpener struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	handles   []*MockHandle
	callbacks []Callbacks
	configs   []Config
	opened    chan struct{}
}

// NewMockOpener creates an opener whose Open succeeds immediately.
func NewMockOpener() *MockOpener {
	return &MockOpener{opened: make(chan struct{}, 16)}
}

// SetError makes subsequent Open calls fail with err.
func (o *MockOpener) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Hold makes subsequent Open calls block until Release or until their
// context is cancelled.
func (o *MockOpener) Hold() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gate = make(chan struct{})
}

// Release unblocks held Open calls.
func (o *MockOpener) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gate != nil {
		close(o.gate)
		o.gate = nil
	}
}

// Open records the call and returns a new MockHandle.
func (o *MockOpener) Open(ctx context.Context, cfg Config, cb Callbacks) (Handle, error) {
	o.mu.Lock()
	gate := o.gate
	o.callbacks = append(o.callbacks, cb)
	o.configs = append(o.configs, cfg)
	o.mu.Unlock()

	select {
	case o.opened <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.err != nil {
		return nil, o.err
	}
	h := &MockHandle{}
	o.handles = append(o.handles, h)
	return h, nil
}

// Opened returns a channel signalled each time Open is entered.
func (o *MockOpener) Opened() <-chan struct{} {
	return o.opened
}

// Calls returns how many times Open was called.
func (o *MockOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.callbacks)
}

// Callbacks returns the callbacks of the most recent Open call.
func (o *MockOpener) Callbacks() Callbacks {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.callbacks) == 0 {
		return Callbacks{}
	}
	return o.callbacks[len(o.callbacks)-1]
}

// Config returns the configuration of the most recent Open call.
func (o *MockOpener) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.configs) == 0 {
		return Config{}
	}
	return o.configs[len(o.configs)-1]
}

// Handles returns every handle handed out so far.
func (o *MockOpener) Handles() []*MockHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*MockHandle(nil), o.handles...)
}

// MockHandle records sent media and close calls.
type MockHandle struct {
	mu      sync.Mutex
	sent    []Media
	closed  int
	sendErr error
	block   chan struct{}
}

// SendRealtimeInput records m. It blocks while sends are held.
func (h *MockHandle) SendRealtimeInput(ctx context.Context, m Media) error {
	h.mu.Lock()
	block := h.block
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, m)
	return nil
}

// HoldSends makes subsequent sends block until ReleaseSends.
func (h *MockHandle) HoldSends() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.block = make(chan struct{})
}

// ReleaseSends unblocks held sends.
func (h *MockHandle) ReleaseSends() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.block != nil {
		close(h.block)
		h.block = nil
	}
}

// SetSendError makes subsequent sends fail with err.
func (h *MockHandle) SetSendError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// Sent returns the media sent so far.
func (h *MockHandle) Sent() []Media {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Media(nil), h.sent...)
}

// Close counts the call.
func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

// Closed returns how many times Close was called.
func (h *MockHandle) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
