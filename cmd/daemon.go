package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/credit"
	"github.com/theirongolddev/credengine/internal/daemon"
	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/pipeline"
)

type daemonRuntimeState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Database  string    `json:"database"`
}

var (
	flagDaemonAddr         string
	flagDaemonSchedule     string
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scoring daemon with HTTP/SSE endpoints and scheduled bulk runs",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(pipeline.DataDir(), "credengined.pid")
	defaultLog := filepath.Join(pipeline.DataDir(), "credengined.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "", "HTTP listen address (default: config daemon.addr)")
	daemonCmd.Flags().StringVar(&flagDaemonSchedule, "schedule", "", "Cron spec for bulk runs (default: config daemon.schedule)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (default: config daemon.events_buffer)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}

	return runDaemonForeground(cmd.Context())
}

func daemonAddr() string {
	if flagDaemonAddr != "" {
		return flagDaemonAddr
	}
	return appCfg.Daemon.Addr
}

func daemonConfig() (daemon.Config, error) {
	cfg := daemon.Config{
		Addr:         daemonAddr(),
		Schedule:     appCfg.Daemon.Schedule,
		Dataset:      appCfg.Pipeline.DatasetPath,
		BatchSize:    appCfg.Pipeline.BatchSize,
		EventsBuffer: appCfg.Daemon.EventsBuffer,
	}
	if flagDaemonSchedule != "" {
		cfg.Schedule = flagDaemonSchedule
	}
	if flagDaemonEventsBuffer > 0 {
		cfg.EventsBuffer = flagDaemonEventsBuffer
	}
	if tz := appCfg.Daemon.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, fmt.Errorf("daemon timezone: %w", err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

func startDaemonDetached() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started scoring daemon (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagDaemonPIDFile)
	fmt.Printf("  Status: http://%s/v1/status\n", daemonAddr())
	fmt.Printf("  Credit API: http://%s/v1/users/{id}/credit-score\n", daemonAddr())
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground(ctx context.Context) error {
	cfg, err := daemonConfig()
	if err != nil {
		return err
	}

	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	pid := os.Getpid()
	if err := writePID(flagDaemonPIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonPIDFile) }()

	state := daemonRuntimeState{
		PID:       pid,
		Addr:      cfg.Addr,
		StartedAt: time.Now(),
		Database:  redactDSN(dsn()),
	}
	_ = writeState(statePath(flagDaemonPIDFile), state)
	defer func() { _ = os.Remove(statePath(flagDaemonPIDFile)) }()

	log := newLogger()
	svc := daemon.New(cfg, st, credit.NewService(st, credit.WithLogger(log)), log)

	fmt.Printf("  credengine daemon listening on http://%s\n", cfg.Addr)
	if cfg.Schedule != "" {
		fmt.Printf("  Bulk runs on schedule %q\n", cfg.Schedule)
	} else {
		fmt.Println("  Scheduled bulk runs disabled; trigger with POST /v1/runs")
	}
	fmt.Printf("  Stop with: credengine daemon stop --pid-file %s\n", flagDaemonPIDFile)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		fmt.Printf("  Scoring daemon: not running (no pid file at %s)\n", flagDaemonPIDFile)
		return nil
	}
	if !processAlive(pid) {
		fmt.Printf("  Scoring daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := daemonAddr()
	state, stateErr := readState(statePath(flagDaemonPIDFile))
	if stateErr == nil && state.Addr != "" {
		addr = state.Addr
	}

	fmt.Printf("  Scoring daemon PID: %d\n", pid)
	fmt.Printf("  Credit API: http://%s/v1/users/{id}/credit-score\n", addr)
	if stateErr == nil && state.Database != "" {
		fmt.Printf("  Store: %s\n", state.Database)
	}

	st, err := fetchDaemonStatus(addr)
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}
	fmt.Print(renderDaemonStatus(st))
	return nil
}

// fetchDaemonStatus reads /v1/status from a running daemon.
func fetchDaemonStatus(addr string) (daemon.Status, error) {
	var st daemon.Status
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/status") //nolint:noctx // short status request
	if err != nil {
		return st, fmt.Errorf("unreachable (%w)", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("malformed response (%w)", err)
	}
	return st, nil
}

// renderDaemonStatus formats the scoring state reported by a daemon.
func renderDaemonStatus(st daemon.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Started: %s\n", st.StartedAt.Local().Format(time.RFC3339))

	switch {
	case st.Running:
		b.WriteString("  Bulk run: in progress\n")
	case st.NextRunAt != nil:
		fmt.Fprintf(&b, "  Next bulk run: %s (%s)\n", st.NextRunAt.Local().Format(time.RFC3339), st.Schedule)
	default:
		b.WriteString("  Bulk runs: on demand (POST /v1/runs)\n")
	}
	fmt.Fprintf(&b, "  Bulk runs completed: %d\n", st.RunCount)
	if r := st.LastRun; r != nil {
		fmt.Fprintf(&b, "  Last run: %s (%s, %s): %s loaded, %s scored, %s profiled\n",
			r.StartedAt.Local().Format(time.RFC3339), r.Trigger,
			cli.FormatElapsed(time.Duration(r.DurationMs)*time.Millisecond),
			cli.FormatNumber(int64(r.Loaded)), cli.FormatNumber(int64(r.Risk)), cli.FormatNumber(int64(r.Finance)))
	}

	sum := st.Summary
	fmt.Fprintf(&b, "  Applicants: %s\n", cli.FormatNumber(int64(sum.Applicants)))
	fmt.Fprintf(&b, "  Risk scores: %s", cli.FormatNumber(int64(sum.RiskScores)))
	if sum.RiskScores > 0 {
		bands := make([]string, 0, len(model.Bands))
		for _, band := range model.Bands {
			bands = append(bands, fmt.Sprintf("%s %s", band, cli.FormatNumber(int64(sum.BandCounts[band]))))
		}
		fmt.Fprintf(&b, " (%s; avg %.1f)", strings.Join(bands, ", "), sum.AvgRiskScore)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Budget profiles: %s", cli.FormatNumber(int64(sum.FinanceRows)))
	if sum.FinanceRows > 0 {
		fmt.Fprintf(&b, " (avg income %s)", cli.FormatMoney(sum.AvgIncome))
	}
	b.WriteString("\n")
	if st.LastError != "" {
		fmt.Fprintf(&b, "  Last error: %s\n", st.LastError)
	}
	return b.String()
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		return fmt.Errorf("scoring daemon is not running (no pid file at %s)", flagDaemonPIDFile)
	}

	// An in-flight bulk run stops after its current batch; give it longer.
	wait := 8 * time.Second
	addr := daemonAddr()
	if state, err := readState(statePath(flagDaemonPIDFile)); err == nil && state.Addr != "" {
		addr = state.Addr
	}
	if st, err := fetchDaemonStatus(addr); err == nil && st.Running {
		fmt.Println("  Bulk run in progress; it stops after the current batch (rerun with: credengine run)")
		wait = 30 * time.Second
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(flagDaemonPIDFile)
			_ = os.Remove(statePath(flagDaemonPIDFile))
			fmt.Printf("  Stopped scoring daemon (pid %d); credit refreshes and scheduled runs are offline\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("scoring daemon (pid %d) did not exit within %s", pid, wait)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func ensureDaemonNotRunning(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if processAlive(pid) {
		return fmt.Errorf("scoring daemon already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	_ = os.Remove(statePath(pidFile))
	return nil
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func readPID(path string) (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func statePath(pidFile string) string {
	return pidFile + ".json"
}

func writeState(path string, st daemonRuntimeState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readState(path string) (daemonRuntimeState, error) {
	var st daemonRuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}
