package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"optimsoc-go/kernel"
)

func main() {
	var (
		tiles     = flag.String("tiles", "0,1,2,3", "Comma-separated compute tile ids, in rank order")
		perTile   = flag.Int("cores-per-tile", 1, "Cores on each compute tile")
		ticks     = flag.Int("ticks", 10, "Scheduling quantum in timer ticks")
		globalIDs = flag.Bool("globalids", true, "Use one thread id space for all cores")
		pages     = flag.Int("pages", 4, "Pages each task maps into its address space")
		traceOut  = flag.String("trace", "", "Write the event trace to this file")
		verbose   = flag.Bool("verbose", false, "Print the kernel console")
	)
	flag.Parse()

	ids, err := parseTiles(*tiles)
	if err != nil {
		log.Fatalf("Invalid -tiles: %v", err)
	}

	trace := kernel.NewTraceBuffer()
	cfg := kernel.DefaultConfig()
	cfg.Platform = kernel.NewPlatform(ids, *perTile)
	cfg.NumTicks = *ticks
	cfg.UseGlobalIDs = *globalIDs
	cfg.Tracer = trace
	if !*verbose {
		cfg.Console = nil
	}

	done := make(chan struct{})
	var task uint32
	cfg.Init = kernel.EntryFunc(func(c *kernel.Core, _ interface{}) {
		runInit(c, task, uint32(*pages))
		close(done)
	})
	k := kernel.New(cfg)
	task = k.RegisterEntry(kernel.EntryFunc(func(c *kernel.Core, arg interface{}) {
		runTask(c, arg.(uint32))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < k.NumCores(); i++ {
		wg.Add(1)
		go func(core int) {
			defer wg.Done()
			k.Boot(ctx, core)
		}(i)
	}
	<-done
	cancel()
	wg.Wait()

	if *traceOut != "" {
		f, err := os.Create(*traceOut)
		if err != nil {
			log.Fatalf("Failed to create trace file: %v", err)
		}
		if _, err := trace.WriteTo(f); err != nil {
			log.Fatalf("Failed to write trace: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to write trace: %v", err)
		}
	}
}

// runInit installs the demand-paging fault handler, starts one task per
// core through the syscall interface and waits for all of them.
func runInit(c *kernel.Core, task, pages uint32) {
	k := c.Kernel()
	var faults int64
	k.VMM().SetDataFaultHandler(kernel.FaultHandlerFunc(func(c *kernel.Core, va uint32) {
		dir, err := k.PageDir(c.Current())
		if err != nil || dir == nil {
			return
		}
		frame := uint32(0x80000000) + uint32(c.Rank())<<20 + (va-taskBase)&0xfffff
		if err := dir.Map(va, frame); err != nil {
			fmt.Fprintf(os.Stderr, "core %d: map %#x: %v\n", c.Rank(), va, err)
			return
		}
		atomic.AddInt64(&faults, 1)
	}))

	var tasks []kernel.Thread
	for core := 0; core < k.NumCores(); core++ {
		sc := kernel.Syscall{
			ID:    kernel.SYS_TASK_CREATE,
			Param: [6]uint32{task, pages, kernel.THREAD_FLAG_PIN | uint32(core)},
		}
		c.Trap(&sc)
		if sc.Output == kernel.SyscallError {
			fmt.Fprintf(os.Stderr, "task create on core %d failed\n", core)
			continue
		}
		t, err := k.Lookup(sc.Output)
		if err != nil {
			// already done
			continue
		}
		tasks = append(tasks, t)
	}
	for _, t := range tasks {
		if err := c.Join(c.Current(), t); err != nil {
			fmt.Fprintf(os.Stderr, "join: %v\n", err)
		}
	}
	fmt.Printf("%d cores, %d page faults served\n", k.NumCores(), atomic.LoadInt64(&faults))
}

const taskBase = uint32(0x40000000)

// runTask touches its pages one by one; each first touch faults the page
// in. The timer tick between accesses lets the quantum expire.
func runTask(c *kernel.Core, pages uint32) {
	for i := uint32(0); i < pages; i++ {
		va := taskBase + i*kernel.PGSIZE
		if _, err := c.Access(va+4, kernel.FaultData); err != nil {
			fmt.Fprintf(os.Stderr, "core %d: access %#x: %v\n", c.Rank(), va, err)
			return
		}
		c.Tick()
	}
}

func parseTiles(s string) ([]uint16, error) {
	var ids []uint16
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseUint(f, 0, 16)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint16(v))
	}
	return ids, nil
}
