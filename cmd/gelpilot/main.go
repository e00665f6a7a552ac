package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/labware"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/notify"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/runstate"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/sequencer"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/setup"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/status"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/uds"
)

const version = "1.0.0"

// Exit codes for `gelpilot run`. Scripts watching a bench branch on these.
const (
	exitOK         = 0
	exitValidation = 1
	exitRunFailed  = 2
	exitAborted    = 3
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "plan":
		runPlan(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "ack":
		runAck(os.Args[2:])
	case "abort":
		runAbort(os.Args[2:])
	case "notify":
		runNotify(os.Args[2:])
	case "version":
		fmt.Printf("gelpilot %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	benchName := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			benchName = args[i]
		default:
			if args[i][0] == '-' {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: gelpilot init [dir] [--name <bench>]\n", args[i])
				os.Exit(1)
			}
			dir = args[i]
		}
	}

	if err := setup.Run(dir, benchName); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized .gelpilot/ in %s\n", absDir)
}

func runValidate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: gelpilot validate <protocol>")
		os.Exit(1)
	}

	benchDir := mustBenchDir()
	cfg := mustLoadConfig(benchDir)
	lw := mustLoadLabware(benchDir, cfg)
	p := mustLoadProtocol(benchDir, args[0])

	// Compose exercises the full plan-time pipeline: formulation math,
	// well binding, capacity checks. Nothing touches hardware.
	wl, err := sequencer.NewComposer(cfg, lw).Compose(p)
	if err != nil {
		reportPlanError(err)
		os.Exit(exitValidation)
	}

	fmt.Printf("%s: OK (%d actions, %d wells, %d source wells)\n",
		p.Name, len(wl.Actions), len(wl.Wells), len(wl.Demands))
}

func runPlan(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: gelpilot plan <protocol> [--json]")
		os.Exit(1)
	}
	protoArg := args[0]
	jsonOutput := false
	for _, a := range args[1:] {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: gelpilot plan <protocol> [--json]\n", a)
			os.Exit(1)
		}
	}

	benchDir := mustBenchDir()
	cfg := mustLoadConfig(benchDir)
	lw := mustLoadLabware(benchDir, cfg)
	p := mustLoadProtocol(benchDir, protoArg)

	wl, err := sequencer.NewComposer(cfg, lw).Compose(p)
	if err != nil {
		reportPlanError(err)
		os.Exit(exitValidation)
	}

	if jsonOutput {
		out := map[string]any{
			"protocol": wl.Protocol,
			"wells":    wl.WellNames,
			"demands":  wl.Demands,
			"plans":    wl.Plans,
			"actions":  wl.Actions,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "plan: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Protocol: %s (%d actions)\n", wl.Protocol, len(wl.Actions))
	fmt.Printf("Wells:    %v\n\n", wl.WellNames)

	fmt.Println("Load the deck:")
	for _, d := range wl.Demands {
		fmt.Printf("  %-28s  at least %.1f uL\n", d.Ref, d.TotalUL)
	}
	fmt.Println()

	for i, act := range wl.Actions {
		marker := " "
		if act.Finalization {
			marker = "f"
		}
		fmt.Printf("%4d %s %s\n", i, marker, act.Describe())
	}
}

func runRun(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: gelpilot run <protocol> [--metrics-addr <host:port>] [--log-level <level>] [--no-notify]")
		os.Exit(1)
	}
	protoArg := args[0]
	var metricsAddr, logLevel string
	noNotify := false
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--metrics-addr":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--metrics-addr requires a value")
				os.Exit(1)
			}
			i++
			metricsAddr = args[i]
		case "--log-level":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--log-level requires a value")
				os.Exit(1)
			}
			i++
			logLevel = args[i]
		case "--no-notify":
			noNotify = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: gelpilot run <protocol> [--metrics-addr <host:port>] [--log-level <level>] [--no-notify]\n", args[i])
			os.Exit(1)
		}
	}

	benchDir := mustBenchDir()
	cfg := mustLoadConfig(benchDir)
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = metricsAddr
	}
	if noNotify {
		cfg.Notifications.Enabled = false
	}
	lw := mustLoadLabware(benchDir, cfg)
	p := mustLoadProtocol(benchDir, protoArg)

	runner := sequencer.NewRunner(benchDir, cfg, p, lw)
	runner.SetForeground(os.Stdin)
	if logLevel != "" {
		runner.SetLogLevel(logLevel)
	}

	// SIGINT at a checkpoint or mid-worklist aborts at the next action
	// boundary; the runner still drives module deactivation afterwards.
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	res, err := runner.Run(ctx)
	if err != nil {
		if isValidationError(err) {
			reportPlanError(err)
			os.Exit(exitValidation)
		}
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(exitRunFailed)
	}

	fmt.Printf("\nRun %s: %s\n", res.RunID, res.Status)
	for _, outcome := range []model.ActionOutcome{
		model.OutcomeSuccess, model.OutcomeSkipped, model.OutcomeFailed, model.OutcomeOperatorAborted,
	} {
		if n := res.Summary.ByOutcome[outcome]; n > 0 {
			fmt.Printf("  %-16s %d\n", outcome, n)
		}
	}
	if res.Summary.LastError != "" {
		fmt.Printf("  last error: %s\n", res.Summary.LastError)
	}
	fmt.Printf("  log: %s\n", res.LogPath)

	switch res.Status {
	case model.RunStatusCompleted:
		os.Exit(exitOK)
	case model.RunStatusOperatorAborted:
		os.Exit(exitAborted)
	default:
		os.Exit(exitRunFailed)
	}
}

func runStatus(args []string) {
	jsonOutput := false
	follow := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		case "--follow":
			follow = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: gelpilot status [--json] [--follow]\n", a)
			os.Exit(1)
		}
	}

	benchDir := mustBenchDir()

	var stop chan struct{}
	if follow {
		stop = make(chan struct{})
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			close(stop)
		}()
	}

	if err := status.Run(benchDir, jsonOutput, follow, stop); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runAck(_ []string) {
	resp := sendControl("ack")
	if !resp.Success {
		code, msg := responseError(resp)
		fmt.Fprintf(os.Stderr, "ack failed [%s]: %s\n", code, msg)
		os.Exit(1)
	}
	fmt.Println("checkpoint acknowledged")
}

func runAbort(_ []string) {
	resp := sendControl("abort")
	if !resp.Success {
		code, msg := responseError(resp)
		fmt.Fprintf(os.Stderr, "abort failed [%s]: %s\n", code, msg)
		os.Exit(1)
	}
	fmt.Println("abort requested; the run stops at the next action boundary")
}

func runNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gelpilot notify <title> <message>")
		os.Exit(1)
	}
	if err := notify.Send(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
}

// sendControl issues one command against the active run's socket.
func sendControl(command string) *uds.Response {
	benchDir := mustBenchDir()
	client := uds.NewClient(filepath.Join(benchDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, nil)
	if err != nil {
		if errors.Is(err, uds.ErrNotRunning) {
			fmt.Fprintf(os.Stderr, "%s: no active run\nStart one with: gelpilot run <protocol>\n", command)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		}
		os.Exit(1)
	}
	return resp
}

func responseError(resp *uds.Response) (code, msg string) {
	code, msg = "", "unknown error"
	if resp.Error != nil {
		code = resp.Error.Code
		msg = resp.Error.Message
	}
	return code, msg
}

func mustBenchDir() string {
	dir := findBenchDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .gelpilot/ directory not found. Run 'gelpilot init [dir]' first.")
		os.Exit(1)
	}
	return dir
}

func mustLoadConfig(benchDir string) model.Config {
	cfg, err := runstate.LoadConfig(benchDir)
	if err != nil {
		if isValidationError(err) {
			reportPlanError(err)
			os.Exit(exitValidation)
		}
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func mustLoadLabware(benchDir string, cfg model.Config) *labware.Map {
	lib, err := runstate.LoadLabware(benchDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load labware: %v\n", err)
		os.Exit(1)
	}
	lw, err := labware.NewMap(lib, cfg.CalibrationMap())
	if err != nil {
		reportPlanError(err)
		os.Exit(exitValidation)
	}
	return lw
}

func mustLoadProtocol(benchDir, arg string) *model.Protocol {
	path, err := runstate.ResolveProtocolPath(benchDir, arg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	p, err := runstate.LoadProtocol(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if ve := p.Validate(); ve != nil {
		fmt.Fprint(os.Stderr, ve.FormatStderr())
		os.Exit(exitValidation)
	}
	return p
}

// reportPlanError prints plan-time failures: aggregated field errors get
// the one-line-per-field form, typed domain errors a single line.
func reportPlanError(err error) {
	var ve *model.ValidationErrors
	if errors.As(err, &ve) {
		fmt.Fprint(os.Stderr, ve.FormatStderr())
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// isValidationError reports whether err is recoverable by editing inputs,
// as opposed to a runtime or setup failure.
func isValidationError(err error) bool {
	var (
		ve *model.ValidationErrors
		re *model.RatioError
		me *model.VolumeError
		ue *model.UnknownLabwareError
		we *model.WellRangeError
	)
	return errors.As(err, &ve) || errors.As(err, &re) || errors.As(err, &me) ||
		errors.As(err, &ue) || errors.As(err, &we)
}

// findBenchDir searches for .gelpilot/ in the current directory and
// ancestors. GELPILOT_DIR overrides the walk entirely.
func findBenchDir() string {
	if env := os.Getenv("GELPILOT_DIR"); env != "" {
		if info, err := os.Stat(env); err == nil && info.IsDir() {
			return env
		}
		return ""
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".gelpilot")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `gelpilot %s — hydrogel precursor preparation controller

Usage: gelpilot <command> [options]

Bench:
  init [dir] [--name <bench>]   Initialize .gelpilot/ workspace
  status [--json] [--follow]    Show run status; --follow tails the log
  version                       Show version

Protocols:
  validate <protocol>           Full plan-time validation, no hardware
  plan <protocol> [--json]      Print the composed action worklist
  run <protocol> [options]      Execute a protocol
      --metrics-addr <addr>       enable the Prometheus listener
      --log-level <level>         debug|info|warn|error (default from config)
      --no-notify                 suppress desktop notifications

Operator channel (for an active run, from another terminal):
  ack                           Acknowledge the waiting checkpoint
  abort                         Abort the run cleanly

Utilities:
  notify <title> <msg>          Desktop notification
  help                          Show this help

Run exit codes: 0 completed, 1 validation error, 2 run failed, 3 aborted.
`, version)
}
