package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/empirempi/empire/internal/config"
	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/pkg/types"
	"github.com/empirempi/empire/pkg/universe"
)

// Version is the mpiexec version, overridden at build time
var Version = "0.1.0"

// groupSeparator splits the command line into launch groups
const groupSeparator = ":"

// errSpawnFailed is returned when at least one launched process failed. The
// failures have already been reported.
var errSpawnFailed = errors.New("one or more processes failed")

type options struct {
	cfgFile   string
	logLevel  string
	logFormat string
	logOutput string
	np        int
	version   bool
}

// NewRootCmd builds the mpiexec command
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "mpiexec [flags] [-n N] command [args...] [: [-n N] command [args...]]...",
		Short: "Launch a batch of processes as one empire world",
		Long: `mpiexec starts every command as part of a single world. Each command runs
N times (default 1); processes are numbered in command-line order and learn
their world rank, the world size and the launcher's rendezvous address from
EMPIRE_WORLD_RANK, EMPIRE_WORLD_SIZE and EMPIRE_PARENT_PORT.

mpiexec waits for every process to exit and fails if any of them could not
be started or exited with a non-zero status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	flags := rootCmd.Flags()
	flags.SetInterspersed(false)

	flags.StringVar(&opts.cfgFile, "config", "",
		"Config file path (default: ~/.config/empire/config.yaml if present)")
	flags.StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	flags.StringVar(&opts.logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	flags.StringVar(&opts.logOutput, "log-output", "",
		"Log output: stdout, stderr, or file path (default: from config or env)")
	flags.IntVarP(&opts.np, "np", "n", 1,
		"Number of processes for the first command")
	flags.BoolVar(&opts.version, "version", false,
		"Show version information")

	return rootCmd
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	if opts.version {
		fmt.Fprintf(cmd.OutOrStdout(), "mpiexec version %s\n", Version)
		return nil
	}

	commands, err := parseGroups(args, opts.np)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	logger.SetGlobal(log)

	u, err := universe.New(universe.Options{Config: *cfg, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to initialize universe: %w", err)
	}
	log = log.With("component", "mpiexec")
	defer func() {
		if err := u.Finalize(); err != nil {
			log.Error("Failed to finalize universe", "error", err)
		}
	}()

	result, err := u.CommSelf().SpawnMultiple(cmd.Context(), 0, commands)
	if err != nil {
		return err
	}

	reg := u.RegisterComm(result.Comm)
	defer func() {
		if err := u.FreeComm(reg); err != nil {
			log.Warn("Failed to free spawned communicator", "error", err)
		}
	}()

	failed := result.Failed()
	reportFailures(cmd.ErrOrStderr(), failed)
	if len(failed) > 0 {
		return errSpawnFailed
	}
	return nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.cfgFile != "" {
		cfg, err = config.LoadWithPath(opts.cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	if opts.logOutput != "" {
		cfg.Logging.Output = opts.logOutput
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitGroups splits args on the group separator. Empty groups are kept so
// the caller can reject them.
func splitGroups(args []string) [][]string {
	groups := [][]string{{}}
	for _, arg := range args {
		if arg == groupSeparator {
			groups = append(groups, []string{})
			continue
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], arg)
	}
	return groups
}

// parseGroups turns the positional arguments into launch requests. The
// first group's count comes from the root -n flag unless the group sets
// its own.
func parseGroups(args []string, firstNP int) ([]universe.SpawnCommandInfo, error) {
	if len(args) == 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "no command given")
	}

	groups := splitGroups(args)
	commands := make([]universe.SpawnCommandInfo, 0, len(groups))
	for i, group := range groups {
		np := 1
		if i == 0 {
			np = firstNP
		}
		info, err := parseGroup(group, np)
		if err != nil {
			return nil, fmt.Errorf("command group %d: %w", i+1, err)
		}
		commands = append(commands, info)
	}
	return commands, nil
}

func parseGroup(group []string, defaultNP int) (universe.SpawnCommandInfo, error) {
	fs := pflag.NewFlagSet("group", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	np := fs.IntP("np", "n", defaultNP, "number of processes")

	if err := fs.Parse(group); err != nil {
		return universe.SpawnCommandInfo{}, types.WrapError(types.ErrCodeInvalidArgument, "invalid group flags", err)
	}
	if *np < 1 {
		return universe.SpawnCommandInfo{}, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("process count must be at least 1, got %d", *np))
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return universe.SpawnCommandInfo{}, types.NewError(types.ErrCodeInvalidArgument, "missing command")
	}

	return universe.SpawnCommandInfo{
		Command:  rest[0],
		Args:     rest[1:],
		MaxProcs: *np,
	}, nil
}

func reportFailures(w io.Writer, failed []universe.Outcome) {
	for _, o := range failed {
		if code, ok := universe.ExitCode(o.Err); ok {
			fmt.Fprintf(w, "mpiexec: rank %d (%s) exited with code %d\n", o.WorldRank, o.Command, code)
			continue
		}
		fmt.Fprintf(w, "mpiexec: rank %d (%s): %v\n", o.WorldRank, o.Command, o.Err)
	}
}

// Execute runs mpiexec and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, errSpawnFailed) {
			fmt.Fprintln(os.Stderr, "mpiexec:", err)
		}
		os.Exit(1)
	}
}
