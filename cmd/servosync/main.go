package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/ServoSync/internal/config"
	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/cjeanneret/ServoSync/internal/logic/command"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
	"github.com/cjeanneret/ServoSync/internal/logic/sweep"
	"github.com/cjeanneret/ServoSync/internal/tui"
	"github.com/cjeanneret/ServoSync/internal/web"
)

// settleDelay is the pause after the initial angles are asserted.
var settleDelay = time.Second

// options are the parsed command-line flags.
type options struct {
	configPath  string
	webPort     int
	tui         bool
	move        string
	stepDeg     float64
	tickDelayMs int
}

// cliOverrides are flag values replacing config values. Zero means "use
// config default".
type cliOverrides struct {
	StepDeg     float64
	TickDelayMs int
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	tuiMode := flag.Bool("tui", false, "start the terminal jog console")
	move := flag.String("move", "", `move once and exit, e.g. "0=120,1=100"`)
	stepDeg := flag.Float64("step_deg", 0, "override motion.step_deg (degrees per tick)")
	tickDelayMs := flag.Int("tick_delay_ms", 0, "override motion.tick_delay_ms")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, options{
		configPath:  *cfgPath,
		webPort:     webPort.port(),
		tui:         *tuiMode,
		move:        *move,
		stepDeg:     *stepDeg,
		tickDelayMs: *tickDelayMs,
	})
	if err != nil {
		log.Fatalf("servosync: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	if err := selectMode(opts); err != nil {
		return err
	}
	if err := validateCLIOverrides(opts.stepDeg, opts.tickDelayMs); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}

	// Load configuration
	if err := config.ValidateConfigPath(opts.configPath); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	applyOverrides(cfg, cliOverrides{StepDeg: opts.stepDeg, TickDelayMs: opts.tickDelayMs})

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", opts.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Driver", cfg.Driver.Type)
	debug.Value("Channels", len(cfg.Channels.List))

	debug.Step(1, "Initializing servo driver")
	hw, err := newHardware(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cfg.Servo.ReleaseOnExit {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := hw.release(releaseCtx); err != nil {
				log.Printf("releasing servos failed: %v", err)
			}
		}
		if err := hw.close(); err != nil {
			log.Printf("closing servo driver failed: %v", err)
		}
	}()

	debug.Step(2, "Creating motion state")
	home := make(map[motion.Channel]float64, len(cfg.Channels.List))
	for id, a := range cfg.InitialAngles() {
		home[motion.Channel(id)] = a
	}
	state, err := motion.NewState(cfg.Servo.ActuationRange, home)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	mover, err := motion.NewMover(state, hw.sink, motion.Config{
		StepSize:  cfg.Motion.StepDeg,
		TickDelay: cfg.TickDelay(),
		Home:      home,
	})
	if err != nil {
		return fmt.Errorf("init mover: %w", err)
	}
	debug.PrintStruct("Motion config", cfg.Motion)

	debug.Step(3, "Asserting initial angles")
	if _, err := mover.Home(ctx); err != nil {
		return fmt.Errorf("initial position: %w", err)
	}
	if !pause(ctx, settleDelay) {
		return nil
	}

	switch {
	case opts.webPort > 0:
		return runWeb(ctx, cfg, mover, opts.webPort)
	case opts.tui:
		// the console owns the terminal
		debug.SetOutput(io.Discard)
		defer debug.SetOutput(os.Stdout)
		return tui.Run(ctx, mover, cfg.Motion.JogDeg)
	case opts.move != "":
		return runMove(ctx, mover, opts.move)
	default:
		return runSweep(ctx, cfg, mover)
	}
}

func runWeb(ctx context.Context, cfg *config.Config, mover *motion.Mover, port int) error {
	webAddr := fmt.Sprintf(":%d", port)
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	formDefaults := web.FormConfig{
		Channels:       cfg.ChannelIDs(),
		ActuationRange: cfg.Servo.ActuationRange,
		StepDeg:        cfg.Motion.StepDeg,
		InitialAngles:  cfg.InitialAngles(),
	}
	srv := web.NewServer(webAddr, broadcaster, mover, formDefaults)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

// moveRunner is the part of motion.Mover a one-shot move needs.
type moveRunner interface {
	Move(ctx context.Context, targets map[motion.Channel]float64) (motion.Result, error)
	Snapshot() map[motion.Channel]float64
}

// runMove resolves "0=120,1=100" against the current angles and moves once.
func runMove(ctx context.Context, mover moveRunner, assignments string) error {
	req, err := command.ParseAssignments(assignments)
	if err != nil {
		return err
	}
	res := command.Resolve(mover.Snapshot(), req)
	for _, ch := range res.Malformed {
		debug.Info("ch%d: malformed angle %q, keeping current angle", ch, req[ch])
	}
	for _, ch := range res.Unknown {
		debug.Info("ch%d: not configured, ignored", ch)
	}

	debug.Section("Move")
	result, err := mover.Move(ctx, res.Targets)
	if err != nil {
		return err
	}
	if result.Cancelled {
		debug.Info("Move cancelled after %d/%d ticks", result.Completed, result.Ticks)
		return nil
	}
	debug.Info("Move complete (%d ticks)", result.Ticks)
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, mover *motion.Mover) error {
	drv := sweep.NewDriver(mover, sweep.Params{
		StartAngle: cfg.Sweep.StartAngle,
		EndAngle:   cfg.Sweep.EndAngle,
		Pause:      cfg.SweepPause(),
		Cycles:     cfg.Sweep.Cycles,
	})
	if err := drv.Run(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	debug.Summary("Sweep Complete")
	return nil
}

// selectMode rejects combinations of front ends; exactly one runs.
func selectMode(opts options) error {
	n := 0
	if opts.webPort > 0 {
		n++
	}
	if opts.tui {
		n++
	}
	if opts.move != "" {
		n++
	}
	if n > 1 {
		return errors.New("-web, -tui and -move are mutually exclusive")
	}
	return nil
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(stepDeg float64, tickDelayMs int) error {
	if stepDeg != 0 {
		if math.IsNaN(stepDeg) || math.IsInf(stepDeg, 0) || stepDeg < config.MinStepDeg || stepDeg > 180 {
			return fmt.Errorf("step_deg must be between %g and 180, got %g", config.MinStepDeg, stepDeg)
		}
	}
	if tickDelayMs < 0 || tickDelayMs > 10000 {
		return fmt.Errorf("tick_delay_ms must be between 0 and 10000, got %d", tickDelayMs)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, overrides cliOverrides) {
	if overrides.StepDeg > 0 {
		cfg.Motion.StepDeg = overrides.StepDeg
	}
	if overrides.TickDelayMs > 0 {
		cfg.Motion.TickDelayMs = overrides.TickDelayMs
	}
}

// pause waits for d and reports false if ctx was cancelled first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
