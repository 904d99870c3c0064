package kernel

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestDefineSection(t *testing.T) {
	t.Parallel()
	buf := NewTraceBuffer()
	DefineSection(buf, 1, 5, "ab")
	Section(buf, 1, 5)
	KernelSection(buf, 1)

	want := []TraceEvent{
		{TraceDefineSection, 5},
		{TraceSectionName, 'a'},
		{TraceSectionName, 'b'},
		{TraceSection, 5},
		{TraceKernelSection, 0},
	}
	if got := buf.Events(1); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(buf.Events(0)) != 0 {
		t.Error("events leaked to core 0")
	}

	var out bytes.Buffer
	if _, err := buf.WriteTo(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "1 0x20 5\n1 0x21 97\n") {
		t.Errorf("dump = %q", out.String())
	}
}

func TestScheduleMarksSections(t *testing.T) {
	buf := NewTraceBuffer()
	k := newTestKernel(t, 1, func(cfg *Config) { cfg.Tracer = buf })
	c := k.Core(0)

	th := mustCreate(t, c, func(*Core, interface{}) {}, &ThreadAttr{Identifier: "w"})
	id, _ := k.ID(th)
	drain(c)

	want := []TraceEvent{
		{TraceDefineSection, id},
		{TraceSectionName, 'w'},
		{TraceSection, id},
		{TraceKernelSection, 0},
	}
	if got := buf.Events(0); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestConsolePrefixesCore(t *testing.T) {
	var out bytes.Buffer
	k := New(Config{Console: &out, Exit: func(int) {}})
	k.printf(3, "hello %d", 1)
	if got := out.String(); got != "[core 3] hello 1\n" {
		t.Errorf("console line = %q", got)
	}
}
