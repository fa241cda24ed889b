package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	werrors "waltz/internal/errors"
	"waltz/internal/repository"
	"waltz/internal/watch"
	"waltz/shared/types"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Initialize a new Waltz repository",
		Long:  `Creates the .waltz metadata directory with an empty commit log. Running it again keeps the existing history.`,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return werrors.IO("resolving", args[0], err)
			}

			created, err := repository.Initialize(root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintln(out, "Initialized empty Waltz repository in", repository.MetaPath(root))
			} else {
				fmt.Fprintln(out, "Reinitialized existing Waltz repository in", repository.MetaPath(root))
			}
			return nil
		},
	}
}

func (c *cli) commitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <path> <message>",
		Short: "Record a snapshot of the working tree",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			defer repo.Close()

			index, err := repo.Commit(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "[%d] Commit successful: %s\n", index, args[1])
			return nil
		},
	}
}

func (c *cli) logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <path>",
		Short: "Show the commit history",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			defer repo.Close()

			commits, err := repo.Log()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(commits) == 0 {
				fmt.Fprintln(out, "No commits yet")
				return nil
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			for i, commit := range commits {
				fmt.Fprintln(out, yellow(fmt.Sprintf("commit %d", i)))
				fmt.Fprintf(out, "Timestamp: %s\n", commit.Time().Local().Format(time.ANSIC))
				fmt.Fprintf(out, "Message: %s\n", commit.Message)
				fmt.Fprintln(out, strings.Repeat("-", 40))
			}
			return nil
		},
	}
}

func (c *cli) checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <path> <index>",
		Short: "Restore the working tree to a commit",
		Long: `Rewrites tracked files so the working tree matches the snapshot of the given commit. Files not in the snapshot are removed. No commit is created.

Arguments after "--" are never read as flags.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}

			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			defer repo.Close()

			commit, result, err := repo.CheckoutCommit(cmd.Context(), index)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked out to commit %d - %s\n", index, commit.Message)
			fmt.Fprintf(out, "%d written, %d deleted, %d unchanged\n",
				len(result.Written), len(result.Deleted), len(result.Unchanged))
			return nil
		},
	}
}

func (c *cli) diffCmd() *cobra.Command {
	var showPatch bool

	cmd := &cobra.Command{
		Use:   "diff <path> <index1> <index2>",
		Short: "Show files changed between two commits",
		Long: `Lists the files added, removed and modified between two commits.

Arguments after "--" are never read as flags.`,
		Args: exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			j, err := parseIndex(args[2])
			if err != nil {
				return err
			}

			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			defer repo.Close()

			changes, err := repo.Diff(i, j)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printChanges(out, changes)

			if !showPatch {
				return nil
			}

			patches, err := repo.Patch(i, j)
			if err != nil {
				return err
			}
			header := color.New(color.FgCyan, color.Bold)
			for _, p := range patches {
				fmt.Fprintln(out)
				header.Fprintf(out, "diff --waltz a/%s b/%s (%s)\n", p.Path, p.Path, p.Change)
				printColoredDiff(out, p.Patch.Format())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showPatch, "patch", "p", false, "show line differences of changed files")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <path>",
		Short: "Show working tree changes since the latest commit",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			defer repo.Close()

			changes, err := repo.Status(cmd.Context())
			if err != nil {
				return err
			}

			printStatus(cmd.OutOrStdout(), changes)
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Check that every committed file can be restored",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			defer repo.Close()

			problems, err := repo.Verify()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(problems) > 0 {
				red := color.New(color.FgRed).SprintFunc()
				for _, p := range problems {
					fmt.Fprintf(out, "%s commit %d: %s: %v\n", red("✗"), p.Commit, p.Path, p.Err)
				}
				return fmt.Errorf("%d unrestorable files: %w", len(problems), problems[0].Err)
			}

			commits, err := repo.Log()
			if err != nil {
				return err
			}
			stats, err := repo.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ok: %d commits, %d blobs (%d bytes)\n", len(commits), stats.Blobs, stats.Bytes)
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Print the working tree status whenever it changes",
		Long:  `Watches the working tree and prints its status after each burst of changes settles. It never commits.`,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Fail early when the path is not a repository. The index lock is
			// only held while a status is computed.
			repo, err := c.openRepo(args[0])
			if err != nil {
				return err
			}
			root := repo.Root
			if err := repo.Close(); err != nil {
				return err
			}

			if !cmd.Flags().Changed("debounce") {
				debounce = c.config.Watch.Debounce
			}

			w, err := watch.New(root, watch.Options{
				MetaDir:  repository.MetaDir,
				Debounce: debounce,
				Logger:   c.logger,
			})
			if err != nil {
				return werrors.IO("watching", root, err)
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", root)

			err = w.Run(ctx, func(ctx context.Context, changed []string) error {
				c.logger.Debug("tree settled", zap.Int("events", len(changed)))

				repo, err := c.openRepo(root)
				if err != nil {
					return err
				}
				defer repo.Close()

				changes, err := repo.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n[%s]\n", time.Now().Format(time.TimeOnly))
				printStatus(out, changes)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before the status is printed (default from config)")
	return cmd
}

func printChanges(out io.Writer, changes shared.Changes) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	list := func(paths []string, paint func(a ...interface{}) string) string {
		colored := make([]string, len(paths))
		for i, p := range paths {
			colored[i] = paint(p)
		}
		return "[" + strings.Join(colored, ", ") + "]"
	}

	fmt.Fprintf(out, "Files added: %s\n", list(changes.Added, green))
	fmt.Fprintf(out, "Files removed: %s\n", list(changes.Removed, red))
	fmt.Fprintf(out, "Files modified: %s\n", list(changes.Modified, yellow))
}

func printStatus(out io.Writer, changes shared.Changes) {
	if changes.Empty() {
		fmt.Fprintln(out, "Nothing to commit, working tree clean")
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "Changes since last commit:\n\n")
	for _, p := range changes.Added {
		fmt.Fprintf(out, "\t%s %s\n", green("A"), p)
	}
	for _, p := range changes.Modified {
		fmt.Fprintf(out, "\t%s %s\n", yellow("M"), p)
	}
	for _, p := range changes.Removed {
		fmt.Fprintf(out, "\t%s %s\n", red("D"), p)
	}
}

func printColoredDiff(out io.Writer, diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Fprintln(out, line)
		case strings.HasPrefix(line, "+"):
			added.Fprintln(out, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprintln(out, line)
		default:
			fmt.Fprintln(out, line)
		}
	}
}
