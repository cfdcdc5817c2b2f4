package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

type fakeMic struct {
	windows chan []float32
	fail    chan error

	mu     sync.Mutex
	closes int
}

func newFakeMic() *fakeMic {
	return &fakeMic{windows: make(chan []float32, 16), fail: make(chan error, 1)}
}

func (m *fakeMic) Read(ctx context.Context) ([]float32, error) {
	select {
	case w := <-m.windows:
		return w, nil
	case err := <-m.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *fakeMic) Name() string { return "fake-mic" }

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMic) closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type fakeCam struct {
	mu     sync.Mutex
	closes int
}

func (c *fakeCam) Snapshot(context.Context) (*capture.VideoFrame, error) {
	return &capture.VideoFrame{Data: []byte{0xFF, 0xD8, 0xFF}, MIMEType: "image/jpeg", CapturedAt: time.Now()}, nil
}

func (c *fakeCam) Name() string { return "fake-cam" }

func (c *fakeCam) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// fakeChannel is an in-memory transport.Channel. Tests drive the inbound
// side with deliver, peerClose, and peerFail.
type fakeChannel struct {
	mu        sync.Mutex
	sent      []transport.Message
	onMessage func(transport.Message)
	onError   func(error)
	onClose   func()
	started   bool
	closes    int
	sendErr   error
}

func (c *fakeChannel) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeChannel) Send(msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return transport.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) OnMessage(fn func(transport.Message)) { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }
func (c *fakeChannel) OnError(fn func(error))               { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }
func (c *fakeChannel) OnClose(fn func())                    { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }

func (c *fakeChannel) Start(context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeChannel) deliver(msg transport.Message) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	fn(msg)
}

func (c *fakeChannel) peerClose() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) peerFail(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	fn(err)
}

func (c *fakeChannel) messages() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Message(nil), c.sent...)
}

func (c *fakeChannel) types() []transport.MessageType {
	var out []transport.MessageType
	for _, m := range c.messages() {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeChannel) closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// fakeDialer hands out a fresh fakeChannel per dial.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	channels []*fakeChannel
	err      error
	block    bool
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (transport.Channel, error) {
	d.mu.Lock()
	d.dials++
	err, block := d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, &transport.TransportError{Op: transport.OpDial, Cause: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}
	ch := &fakeChannel{}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

// fakeOutput records every unit handed to the device.
type fakeOutput struct {
	playFor time.Duration

	mu     sync.Mutex
	units  [][]float32
	opens  int
	closes int
}

func (o *fakeOutput) OpenOutput(context.Context, int) (playback.OutputDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	return &fakeDevice{out: o}, nil
}

func (o *fakeOutput) played() [][]float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]float32(nil), o.units...)
}

type fakeDevice struct{ out *fakeOutput }

func (d *fakeDevice) Play(ctx context.Context, samples []float32) error {
	d.out.mu.Lock()
	d.out.units = append(d.out.units, samples)
	d.out.mu.Unlock()
	select {
	case <-time.After(d.out.playFor):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *fakeDevice) Name() string { return "fake-speaker" }

func (d *fakeDevice) Close() error {
	d.out.mu.Lock()
	defer d.out.mu.Unlock()
	d.out.closes++
	return nil
}

// recorder collects bus events.
type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) listen(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t events.EventType) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) phases() []string {
	var out []string
	for _, e := range r.ofType(events.EventPhaseChanged) {
		out = append(out, e.Data.(events.PhaseChangedData).To)
	}
	return out
}

var errPeerGone = errors.New("connection reset by peer")
