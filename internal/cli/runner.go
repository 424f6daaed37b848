package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/brigadeboard/internal/config"
	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/session"
	"github.com/g960059/brigadeboard/internal/unit"
)

const program = "boardsync"

type Runner struct {
	client *http.Client
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

// globals holds the persistent flags of one invocation.
type globals struct {
	configPath string
	backend    string
	socket     string
	dbPath     string
	actor      string
	admin      bool
	logLevel   string
	logFormat  string
	assumeYes  bool
	jsonOut    bool
}

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func NewRunner(in io.Reader, out, errOut io.Writer) *Runner {
	return NewRunnerWithClient(nil, in, out, errOut)
}

func NewRunnerWithClient(client *http.Client, in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Runner{
		client: client,
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
	}
}

// Run executes one command line and returns the process exit code: 0 on
// success, 2 for usage errors and 1 for everything else.
func (r *Runner) Run(ctx context.Context, args []string) int {
	g := &globals{}
	root := r.rootCommand(g)
	root.SetArgs(args)
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	var uerr usageError
	if errors.As(err, &uerr) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintf(r.errOut, "%s: %v\n", program, err)
		_, _ = fmt.Fprintln(r.errOut, cmd.UseLine())
		return 2
	}
	_, _ = fmt.Fprintf(r.errOut, "%s: %s: %v\n", program, scope(cmd), describe(err))
	return 1
}

func (r *Runner) rootCommand(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           program,
		Short:         "Live dispatch board sync and unit lifecycle client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file")
	pf.StringVar(&g.backend, "backend", "", "backend base URL")
	pf.StringVar(&g.socket, "socket", "", "live socket URL (\"off\" forces the event stream)")
	pf.StringVar(&g.dbPath, "db", "", "SQLite path for timers and alerts")
	pf.StringVar(&g.actor, "actor", "", "name recorded in audit remarks")
	pf.BoolVar(&g.admin, "admin", false, "enable administrator commands")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "", "text, json or auto")
	pf.BoolVarP(&g.assumeYes, "yes", "y", false, "answer yes to confirmations")
	pf.BoolVar(&g.jsonOut, "json", false, "output JSON")

	root.AddCommand(
		r.runCommand(g),
		r.dispatchCommand(g),
		r.transferCommand(g),
		r.advanceCommand(g),
		r.clearCommand(g),
		r.clearAllCommand(g),
		r.closeCommand(g),
		r.holdCommand(g),
		r.forceClearCommand(g),
		r.crewCommand(g),
		r.transferCommandCommand(g),
		r.selfInitCommand(g),
		r.unitCommand(g),
		r.statusCommand(g),
		r.timerCommand(g),
		r.flashCommand(g),
		r.panelCommand(g),
	)
	return root
}

func (g *globals) config() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.backend != "" {
		cfg.BackendURL = g.backend
	}
	switch {
	case g.socket == "off":
		cfg.SocketURL = ""
	case g.socket != "":
		cfg.SocketURL = g.socket
	}
	if g.dbPath != "" {
		cfg.StoragePath = g.dbPath
	}
	if g.actor != "" {
		cfg.Actor = g.actor
	}
	if g.admin {
		cfg.Admin = true
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	return cfg, cfg.Validate()
}

// openSession builds a session for a one-shot command. Only the effects
// queue is started; the push channel stays closed.
func (r *Runner) openSession(ctx context.Context, g *globals, m *metrics.Metrics, ports session.Ports) (*session.Session, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	if ports.Prompter == nil {
		ports.Prompter = newLinePrompter(r.in, r.out, g.assumeYes)
	}
	if ports.Disposition == nil {
		ports.Disposition = dispositionNotice{out: r.out}
	}
	if ports.Sounder == nil {
		ports.Sounder = bell{out: r.errOut}
	}
	if ports.Opener == nil {
		ports.Opener = incidentOpener{out: r.out}
	}
	s, err := session.New(ctx, cfg, ports, session.Options{
		HTTPClient: r.client,
		Logger:     logging.New(r.errOut, cfg.LogLevel, cfg.LogFormat),
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}
	s.Effects.Start(ctx)
	return s, nil
}

// withSession runs fn against a one-shot session and closes it afterwards.
func (r *Runner) withSession(cmd *cobra.Command, g *globals, fn func(ctx context.Context, s *session.Session) error) error {
	ctx := cmd.Context()
	s, err := r.openSession(ctx, g, nil, session.Ports{})
	if err != nil {
		return err
	}
	runErr := fn(ctx, s)
	closeErr := s.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *Runner) printJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{err: fmt.Errorf("%s expects %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usageError{err: fmt.Errorf("%s expects at least %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

func parseIncidentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError{err: fmt.Errorf("invalid incident id %q", raw)}
	}
	return id, nil
}

func scope(cmd *cobra.Command) string {
	if cmd == nil || !cmd.HasParent() {
		return "error"
	}
	return strings.TrimPrefix(cmd.CommandPath(), program+" ")
}

// describe trims wrapping for errors the operator is meant to read.
func describe(err error) error {
	if errors.Is(err, unit.ErrCancelled) {
		return unit.ErrCancelled
	}
	return err
}
