// cmd/waltz/main.go
package main

import (
	"fmt"
	"os"
	"strconv"

	"waltz/internal/config"
	werrors "waltz/internal/errors"
	"waltz/internal/logging"
	"waltz/internal/repository"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds the state shared by the commands of one invocation.
type cli struct {
	logLevel string
	noColor  bool

	config *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "waltz",
		Short: "Waltz is a minimal local version control system",
		Long: `Waltz records snapshots of a working tree in a linear commit log,
restores any earlier snapshot and reports what changed between two commits.`,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	// Flag parse errors are usage errors. A negative index such as "-1"
	// parses as a flag unless it follows "--".
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return werrors.ValidationError(err.Error(), cmd.Name())
	})

	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		c.initCmd(),
		c.commitCmd(),
		c.logCmd(),
		c.checkoutCmd(),
		c.diffCmd(),
		c.statusCmd(),
		c.verifyCmd(),
		c.watchCmd(),
	)
	return rootCmd
}

// setup runs after argument validation: from here on failures are not
// usage errors.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	configPath := ""
	if len(args) > 0 {
		configPath = repository.ConfigPath(args[0])
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return werrors.ValidationError(err.Error(), configPath)
	}
	c.config = cfg

	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		return werrors.ValidationError(fmt.Sprintf("invalid log level %q", level), level)
	}
	c.logger = logger.WithInvocationID(uuid.NewString())

	if c.noColor || !cfg.Output.Color {
		color.NoColor = true
	}

	c.logger.Debug("command started",
		zap.String("command", cmd.Name()),
		zap.Strings("args", args))
	return nil
}

func (c *cli) openRepo(path string) (*repository.Repository, error) {
	return repository.Open(path, c.logger)
}

// exactArgs is cobra.ExactArgs reported as a validation error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return werrors.ValidationError(err.Error(), args)
		}
		return nil
	}
}

func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, werrors.ValidationError(fmt.Sprintf("invalid commit index %q", s), s)
	}
	return index, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(werrors.ExitCode(err))
	}
}
