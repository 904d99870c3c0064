package kernel

import (
	"io"
	"os"
)

// Config carries the boot-time settings and the platform collaborators.
type Config struct {
	// Platform is the topology table. Defaults to one single-core tile.
	Platform *Platform

	// NumTicks is the scheduling quantum in timer ticks.
	NumTicks int

	// UseGlobalIDs hands out thread ids from one counter shared by all
	// cores instead of core-prefixed ids.
	UseGlobalIDs bool

	MaxThreads     int
	PageTableNodes int

	// IdleThreads gives every core an idle thread at scheduler init.
	IdleThreads bool

	// Init is the first kernel thread, started on core 0.
	Init Entry

	Console io.Writer
	Tracer  Tracer
	MP      MessagePassing
	DMA     DMA

	// Exit terminates the run on a fatal kernel condition.
	Exit func(code int)
}

func DefaultConfig() Config {
	lb := NewLoopback()
	return Config{
		Platform:       NewPlatform([]uint16{0}, 1),
		NumTicks:       10,
		UseGlobalIDs:   true,
		MaxThreads:     64,
		PageTableNodes: 256,
		IdleThreads:    true,
		Console:        os.Stderr,
		Tracer:         nopTracer{},
		MP:             lb,
		DMA:            LoopbackDMA{lb},
		Exit:           os.Exit,
	}
}

func (cfg *Config) setDefaults() {
	def := DefaultConfig()
	if cfg.Platform == nil {
		cfg.Platform = def.Platform
	}
	if cfg.NumTicks <= 0 {
		cfg.NumTicks = def.NumTicks
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = def.MaxThreads
	}
	if cfg.PageTableNodes <= 0 {
		cfg.PageTableNodes = def.PageTableNodes
	}
	if cfg.Tracer == nil {
		cfg.Tracer = def.Tracer
	}
	if cfg.MP == nil {
		cfg.MP = def.MP
		cfg.DMA = def.DMA
	}
	if cfg.DMA == nil {
		cfg.DMA = def.DMA
	}
	if cfg.Exit == nil {
		cfg.Exit = def.Exit
	}
}
