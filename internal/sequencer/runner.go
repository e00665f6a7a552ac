package sequencer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/events"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/hardware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/labware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/lock"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/metrics"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/notify"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/runstate"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/thermal"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/uds"
)

// sourceSeedHeadroom is the extra liquid the simulator puts in each source
// well beyond the computed demand, covering blow-out residue.
const sourceSeedHeadroom = 1.15

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// RunResult is what a finished run hands back to the CLI.
type RunResult struct {
	RunID   string
	Status  model.RunStatus
	Summary events.RunLogSummary
	LogPath string
}

// Runner owns one run end to end: bench lock, worklist composition, run
// artifacts, background services (thermal poller, control socket, metrics),
// execution, and teardown. Shutdown is idempotent.
type Runner struct {
	benchDir string
	cfg      model.Config
	protocol *model.Protocol
	lw       *labware.Map
	store    *runstate.Store

	driver     hardware.Driver
	foreground bool
	stdin      io.Reader
	logLevel   LogLevel
	logger     *log.Logger

	gate     *Gate
	bus      *events.Bus
	server   *uds.Server
	coord    *thermal.Coordinator
	state    *model.RunState
	robotLck *lock.FileLock
	bgCancel context.CancelFunc
	shutdown sync.Once

	notifySender func(title, message string) error
}

func NewRunner(benchDir string, cfg model.Config, p *model.Protocol, lw *labware.Map) *Runner {
	r := &Runner{
		benchDir:     benchDir,
		cfg:          cfg,
		protocol:     p,
		lw:           lw,
		store:        runstate.NewStore(benchDir),
		gate:         NewGate(),
		logLevel:     parseLogLevel(cfg.Logging.Level),
		logger:       log.Default(),
		notifySender: notify.Send,
	}
	if !cfg.Notifications.Enabled {
		r.notifySender = func(string, string) error { return nil }
	}
	return r
}

// SetDriver injects a driver, bypassing config-based construction.
func (r *Runner) SetDriver(d hardware.Driver) { r.driver = d }

// SetLogLevel overrides the config-derived level, used by the --log-level flag.
func (r *Runner) SetLogLevel(s string) { r.logLevel = parseLogLevel(s) }

// SetForeground enables the stdin operator reader on rd (Enter to
// acknowledge a checkpoint, q then Enter to abort).
func (r *Runner) SetForeground(rd io.Reader) {
	r.foreground = true
	r.stdin = rd
}

// SetNotifySender replaces the desktop notification hook.
func (r *Runner) SetNotifySender(fn func(title, message string) error) {
	r.notifySender = fn
}

// Gate exposes the operator gate, used by tests to script acks and aborts.
func (r *Runner) Gate() *Gate { return r.gate }

// Run executes the protocol and returns the terminal result. A run that
// ends failed or operator_aborted is still a non-error return; the error
// path is for setup problems (lock held, compose failure, artifacts).
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if err := os.MkdirAll(filepath.Join(r.benchDir, "locks"), 0o755); err != nil {
		return nil, fmt.Errorf("ensure locks dir: %w", err)
	}
	r.robotLck = lock.NewFileLock(filepath.Join(r.benchDir, "locks", "robot.lock"))
	if err := r.robotLck.TryLock(); err != nil {
		return nil, fmt.Errorf("robot lock: %w", err)
	}
	defer r.Shutdown()

	wl, err := NewComposer(r.cfg, r.lw).Compose(r.protocol)
	if err != nil {
		return nil, fmt.Errorf("compose worklist: %w", err)
	}
	r.log(LogLevelDebug, "worklist composed protocol=%s actions=%d wells=%d",
		r.protocol.Name, len(wl.Actions), len(wl.Wells))

	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.CreateRun(runID); err != nil {
		return nil, err
	}
	r.state = &model.RunState{
		RunID:        runID,
		ProtocolName: r.protocol.Name,
		Status:       model.RunStatusPending,
		TotalActions: len(wl.Actions),
		StartedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.store.SaveState(r.state); err != nil {
		return nil, err
	}

	runLog, err := events.NewRunLog(r.store.LogPath(runID), runID)
	if err != nil {
		return nil, err
	}
	defer runLog.Close()

	r.bus = events.NewBus(256)
	defer r.bus.Close()

	driver, err := r.buildDriver(wl)
	if err != nil {
		return nil, err
	}
	r.coord = thermal.NewCoordinator(driver, r.cfg.Thermal, r.bus)
	for _, m := range r.protocol.Modules {
		if err := r.coord.Register(m.ID); err != nil {
			return nil, err
		}
	}

	collector := metrics.NewCollector()
	detach := collector.Attach(r.bus)
	defer detach()

	r.server = uds.NewServer(filepath.Join(r.benchDir, uds.DefaultSocketName))
	r.registerHandlers()
	if err := r.server.Start(); err != nil {
		return nil, fmt.Errorf("start control socket: %w", err)
	}

	// Background services live past a SIGINT: the executor must still drive
	// module shutdown through the coordinator after a cancellation-abort.
	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	r.bgCancel = bgCancel
	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error { return r.coord.Run(gctx) })
	if r.cfg.Metrics.Enabled {
		g.Go(func() error { return collector.Serve(gctx, r.cfg.Metrics.ListenAddr) })
	}
	if r.foreground {
		go r.readOperatorInput(gctx)
	}

	ex := NewExecutor(driver, r.coord, r.cfg, r.bus, runLog, r.store, r.state, r.gate)
	ex.SetNotifySender(r.notifySender)
	status, execErr := ex.Execute(ctx, wl)

	bgCancel()
	if err := g.Wait(); err != nil {
		r.log(LogLevelWarn, "background service error=%v", err)
	}

	records, err := events.Load(runLog.Path())
	if err != nil {
		return nil, fmt.Errorf("read back execution log: %w", err)
	}
	result := &RunResult{
		RunID:   runID,
		Status:  status,
		Summary: events.Summarize(records),
		LogPath: runLog.Path(),
	}

	if err := r.notifySender("gelpilot run "+string(status), r.protocol.Name); err != nil {
		r.log(LogLevelWarn, "run-end notification failed error=%v", err)
	}
	var abortErr *model.OperatorAbortError
	if execErr != nil && !errors.As(execErr, &abortErr) {
		r.log(LogLevelError, "run halted run=%s error=%v", runID, execErr)
	}
	return result, nil
}

// Shutdown tears the run's services down. Safe to call more than once and
// from UDS handler goroutines.
func (r *Runner) Shutdown() {
	r.shutdown.Do(func() {
		if r.bgCancel != nil {
			r.bgCancel()
		}
		if r.server != nil {
			_ = r.server.Stop()
		}
		if r.robotLck != nil {
			if err := r.robotLck.Unlock(); err != nil {
				r.log(LogLevelWarn, "release robot lock error=%v", err)
			}
		}
	})
}

func (r *Runner) log(level LogLevel, format string, args ...any) {
	if level < r.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s %s runner: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

// buildDriver constructs the configured hardware driver. The simulator is
// seeded from the worklist: sources carry their computed demand plus
// headroom, destinations start empty, modules start at ambient.
func (r *Runner) buildDriver(wl *Worklist) (hardware.Driver, error) {
	if r.driver != nil {
		return r.driver, nil
	}
	switch r.cfg.Robot.Driver {
	case "simulator":
		sim := hardware.NewSim(r.cfg.Pipette)
		SeedSim(sim, wl, r.protocol)
		return sim, nil
	}
	return nil, fmt.Errorf("unknown robot driver %q", r.cfg.Robot.Driver)
}

// SeedSim loads a simulator with everything the worklist will touch.
func SeedSim(sim *hardware.Sim, wl *Worklist, p *model.Protocol) {
	for _, d := range wl.Demands {
		sim.SeedWell(d.Target.Position, d.TotalUL*sourceSeedHeadroom)
	}
	for _, w := range wl.Wells {
		sim.SeedWell(w.Position, 0)
	}
	for _, m := range p.Modules {
		sim.AddModule(m.ID, 0)
	}
}

// statusSnapshot is the `status` command payload.
type statusSnapshot struct {
	RunID         string              `json:"run_id"`
	Protocol      string              `json:"protocol"`
	Status        model.RunStatus     `json:"status"`
	CurrentAction int                 `json:"current_action"`
	TotalActions  int                 `json:"total_actions"`
	Checkpoint    string              `json:"checkpoint,omitempty"`
	Modules       []model.ModuleState `json:"modules,omitempty"`
}

func (r *Runner) registerHandlers() {
	r.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	// Handlers run on socket goroutines; the snapshot is read back from the
	// state file rather than the executor's live struct so they never race.
	runID := r.state.RunID
	r.server.Handle("status", func(req *uds.Request) *uds.Response {
		st, err := r.store.LoadState(runID)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		snap := statusSnapshot{
			RunID:         st.RunID,
			Protocol:      st.ProtocolName,
			Status:        st.Status,
			CurrentAction: st.CurrentAction,
			TotalActions:  st.TotalActions,
		}
		if msg, waiting := r.gate.Waiting(); waiting {
			snap.Checkpoint = msg
		}
		if r.coord != nil {
			snap.Modules = r.coord.States()
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		return &uds.Response{Success: true, Data: data}
	})

	r.server.Handle("ack", func(req *uds.Request) *uds.Response {
		switch err := r.gate.Ack(); err {
		case nil:
			return uds.SuccessResponse(map[string]string{"status": "acknowledged"})
		case ErrNotPaused:
			return uds.ErrorResponse(uds.ErrCodeNotPaused, err.Error())
		case ErrAlreadyFinished:
			return uds.ErrorResponse(uds.ErrCodeAlreadyFinished, err.Error())
		default:
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
	})

	r.server.Handle("abort", func(req *uds.Request) *uds.Response {
		switch err := r.gate.Abort(); err {
		case nil:
			return uds.SuccessResponse(map[string]string{"status": "abort_requested"})
		case ErrAlreadyFinished:
			return uds.ErrorResponse(uds.ErrCodeAlreadyFinished, err.Error())
		default:
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
	})
}

// readOperatorInput services a foreground terminal: a bare Enter
// acknowledges the active checkpoint, q aborts the run.
func (r *Runner) readOperatorInput(ctx context.Context) {
	scanner := bufio.NewScanner(r.stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "":
			if err := r.gate.Ack(); err != nil && err != ErrNotPaused {
				return
			}
		case "q", "Q":
			_ = r.gate.Abort()
			return
		}
	}
}
