package kernel

import (
	"fmt"
	"sync"
)

// MessageHandler receives inbound messages of one channel.
type MessageHandler interface {
	HandleMessage(src uint16, payload []uint32)
}

// MessagePassing is the interconnect message service. Init is called once
// by core 0 before any handler is added.
type MessagePassing interface {
	Init() error
	AddHandler(channel uint32, h MessageHandler) error
}

// DMA is the bulk transfer engine; the kernel only brings it up.
type DMA interface {
	Init() error
}

// Loopback delivers messages synchronously inside one process. It serves as
// both message service and DMA engine for the hosted simulator.
type Loopback struct {
	mu       sync.Mutex
	ready    bool
	dma      bool
	handlers map[uint32]MessageHandler
}

func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[uint32]MessageHandler)}
}

func (l *Loopback) Init() error {
	l.mu.Lock()
	l.ready = true
	l.mu.Unlock()
	return nil
}

func (l *Loopback) AddHandler(channel uint32, h MessageHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return fmt.Errorf("mp: handler added before init")
	}
	l.handlers[channel] = h
	return nil
}

// Send delivers payload from tile src to the handler of channel.
func (l *Loopback) Send(src uint16, channel uint32, payload []uint32) error {
	l.mu.Lock()
	h := l.handlers[channel]
	l.mu.Unlock()
	if h == nil {
		return fmt.Errorf("mp: no handler on channel %d", channel)
	}
	h.HandleMessage(src, payload)
	return nil
}

// DMAReady reports whether the DMA side has been brought up.
func (l *Loopback) DMAReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dma
}

// LoopbackDMA is the DMA side of a Loopback.
type LoopbackDMA struct{ *Loopback }

func (d LoopbackDMA) Init() error {
	d.mu.Lock()
	d.dma = true
	d.mu.Unlock()
	return nil
}

// Thread control messages on channel 0.
const (
	MsgThreadResume  = 1
	MsgThreadSuspend = 2
)

// threadReceive handles remote thread control: payload[0] is the
// operation, payload[1] the thread id. Core 0 registers it, so its
// diagnostics go to core 0's console.
type threadReceive struct {
	k *Kernel
}

func (r threadReceive) HandleMessage(src uint16, payload []uint32) {
	if len(payload) < 2 {
		r.k.printf(0, "thread_receive: short message from tile %d", src)
		return
	}
	t, err := r.k.Lookup(payload[1])
	if err != nil {
		r.k.printf(0, "thread_receive: %v (id %d)", err, payload[1])
		return
	}
	switch payload[0] {
	case MsgThreadResume:
		err = r.k.Resume(t)
	case MsgThreadSuspend:
		err = r.k.Suspend(t)
	default:
		r.k.printf(0, "thread_receive: unknown op %d from tile %d", payload[0], src)
		return
	}
	if err != nil {
		r.k.printf(0, "thread_receive: op %d on thread %d: %v", payload[0], payload[1], err)
	}
}
