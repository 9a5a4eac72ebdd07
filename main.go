// ════════════════════════════════════════════════════════════════════════════════════════════════
// hybridsched - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Process orchestration for the hybrid circuit/packet scheduler
//
// Description:
//   Builds the VOQ fabric, the schedule executor and their control surfaces from configuration,
//   then runs until SIGINT/SIGTERM.
//
// Architecture:
//   - Phase 0: configuration and logging
//   - Phase 1: fabric, journal, executor and handler table assembly
//   - Phase 2: heap settle before the busy-wait phase
//   - Phase 3: executor on a pinned thread, control channel alongside
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime"
	rtdebug "runtime/debug"
	"sync"
	"syscall"

	"hybridsched/clock"
	"hybridsched/config"
	"hybridsched/control"
	"hybridsched/ctrlws"
	"hybridsched/debug"
	"hybridsched/executor"
	"hybridsched/fabric"
	"hybridsched/handler"
	"hybridsched/journal"
	"hybridsched/logging"
	"hybridsched/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func main() {
	// PHASE 0: configuration and logging
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		debug.DropError("CONFIG", err)
		os.Exit(1)
	}
	logger := logging.New("hybridsched", cfg.LogLevel)
	debug.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	flags := control.New()
	setupSignalHandling(cancel, flags)

	if err := run(ctx, cfg, flags); err != nil {
		debug.DropError("FATAL", err)
		os.Exit(1)
	}
	debug.DropMessage("SHUTDOWN", "all subsystems stopped")
}

// system is everything run assembles from one Config.
type system struct {
	fabric   *fabric.Fabric
	executor *executor.Executor
	journal  *journal.Journal // nil when disabled
	table    *handler.Table
}

// assemble builds the fabric, the optional journal and the executor and
// registers every control endpoint.
func assemble(cfg config.Config, clk clock.Clock) (*system, error) {
	params, err := cfg.ExecutorParams()
	if err != nil {
		return nil, err
	}

	fab, err := fabric.New(fabric.Options{
		Hosts:            cfg.Hosts,
		Capacity:         cfg.QueueCapacity,
		MarkingThreshold: cfg.MarkingThreshold,
		MarkingEnabled:   cfg.MarkingEnabled,
		Accounting:       cfg.Accounting,
		Clock:            clk,
	})
	if err != nil {
		return nil, err
	}

	sys := &system{fabric: fab, table: handler.NewTable()}
	execCfg := executor.Config{
		Hosts:      cfg.Hosts,
		Clock:      clk,
		CPU:        cfg.ExecutorCPU,
		Circuit:    fab,
		Packet:     fab,
		Queues:     fab.QueueHandles(),
		Congestion: fab,
		Delay:      fab,
		Params:     params,
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, clk)
		if err != nil {
			return nil, err
		}
		sys.journal = j
		execCfg.Events = j
		execCfg.Schedules = j
		if params.Schedule != nil {
			j.ScheduleInstalled(params.Schedule)
		}
		debug.DropMessage("JOURNAL", "run "+j.RunID()+" -> "+cfg.JournalPath)
	}

	sys.executor, err = executor.New(execCfg)
	if err != nil {
		sys.close()
		return nil, err
	}
	if err := sys.executor.RegisterHandlers(sys.table); err != nil {
		sys.close()
		return nil, err
	}
	if err := fab.RegisterHandlers(sys.table); err != nil {
		sys.close()
		return nil, err
	}
	return sys, nil
}

func (s *system) close() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Close(); err != nil {
		debug.DropError("JOURNAL", err)
	}
}

// run blocks until ctx is done and every subsystem has returned.
func run(ctx context.Context, cfg config.Config, flags *control.Flags) error {
	// PHASE 1: assembly
	sys, err := assemble(cfg, clock.NewMonotonic())
	if err != nil {
		return err
	}
	defer sys.close()
	debug.DropMessage("READY", utils.Itoa(cfg.Hosts)+" hosts, "+utils.Itoa(len(sys.table.Names()))+" handlers")

	// PHASE 2: settle the heap so the executor starts from a quiet collector
	runtime.GC()
	rtdebug.FreeOSMemory()

	// PHASE 3: executor and control channel
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sys.executor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()
	if cfg.ControlAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ctrlws.New(sys.table).ListenAndServe(ctx, cfg.ControlAddr); err != nil {
				errs <- err
				cancel()
			}
		}()
	}
	flags.ForceHot()

	wg.Wait()
	close(errs)
	return errors.Join(collect(errs)...)
}

func collect(errs <-chan error) []error {
	var out []error
	for err := range errs {
		out = append(out, err)
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// setupSignalHandling cancels the run context on SIGINT/SIGTERM. A second
// signal exits immediately.
func setupSignalHandling(cancel context.CancelFunc, flags *control.Flags) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "Received interrupt, shutting down...")
		flags.Shutdown()
		cancel()

		<-sigChan
		debug.DropMessage("SIGNAL", "Second interrupt, exiting")
		os.Exit(1)
	}()
}
