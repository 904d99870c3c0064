package kernel

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// console is the kernel's UART stand-in. Lines carry the core rank.
type console struct {
	*log.Logger
}

func newConsole(w io.Writer) *console {
	if w == nil {
		w = io.Discard
	}
	return &console{Logger: log.New(w, "", 0)}
}

func (k *Kernel) printf(core int, format string, args ...interface{}) {
	k.console.Printf("[core %d] %s", core, fmt.Sprintf(format, args...))
}

// Trace event codes understood by the offline analysis tools.
const (
	TraceDefineSection = 0x20
	TraceSectionName   = 0x21
	TraceSection       = 0x22
	TraceKernelSection = 0x23
)

// Tracer is the debug trace sink. Emission is fire-and-forget and must
// keep the order of events issued by one core.
type Tracer interface {
	Trace(core int, code, value uint32)
}

type nopTracer struct{}

func (nopTracer) Trace(int, uint32, uint32) {}

// DefineSection names a trace section: one define event followed by one
// event per character of the name.
func DefineSection(tr Tracer, core int, id uint32, name string) {
	tr.Trace(core, TraceDefineSection, id)
	for i := 0; i < len(name); i++ {
		tr.Trace(core, TraceSectionName, uint32(name[i]))
	}
}

// Section marks entry into section id.
func Section(tr Tracer, core int, id uint32) {
	tr.Trace(core, TraceSection, id)
}

// KernelSection marks entry into the kernel.
func KernelSection(tr Tracer, core int) {
	tr.Trace(core, TraceKernelSection, 0)
}

// TraceEvent is one recorded (code, value) pair.
type TraceEvent struct {
	Code  uint32
	Value uint32
}

// TraceBuffer records events per core in memory.
type TraceBuffer struct {
	mu     sync.Mutex
	events map[int][]TraceEvent
}

func NewTraceBuffer() *TraceBuffer {
	return &TraceBuffer{events: make(map[int][]TraceEvent)}
}

func (b *TraceBuffer) Trace(core int, code, value uint32) {
	b.mu.Lock()
	b.events[core] = append(b.events[core], TraceEvent{Code: code, Value: value})
	b.mu.Unlock()
}

// Events returns a copy of the events recorded for core.
func (b *TraceBuffer) Events(core int) []TraceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TraceEvent, len(b.events[core]))
	copy(out, b.events[core])
	return out
}

// WriteTo dumps the buffer as "core code value" lines, cores in rank order.
func (b *TraceBuffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	maxCore := -1
	for c := range b.events {
		if c > maxCore {
			maxCore = c
		}
	}
	var total int64
	for c := 0; c <= maxCore; c++ {
		for _, ev := range b.events[c] {
			n, err := fmt.Fprintf(w, "%d 0x%02x %d\n", c, ev.Code, ev.Value)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
