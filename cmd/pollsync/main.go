package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/b1naryth1ef/pollsync"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// closeLogFile flushes the rotating log once a command finishes.
var closeLogFile = func() error { return nil }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pollsync",
		Short:         "Fetch a list of files from a remote directory, polling until they arrive",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSync,
	}

	flags := root.PersistentFlags()
	addConfigFlags(flags)
	flags.String("log-file", filepath.Join("logging", "pollsync.log"), "rotating log file, empty to disable")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(mustString(cmd, "log-level"))); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logFile := mustString(cmd, "log-file")
		if logFile != "" {
			if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
		}
		logger, closeLog := newLogger(cmd.OutOrStdout(), logFile, level)
		slog.SetDefault(logger)
		closeLogFile = closeLog
		return nil
	}
	root.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return closeLogFile()
	}

	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Run the polling sync (the default command)",
		RunE:  runSync,
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and manifest without connecting",
		RunE:  runCheck,
	})

	return root
}

func mustString(cmd *cobra.Command, name string) string {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(err)
	}
	return value
}

// prepare resolves settings and the initial pending set.
func prepare(cmd *cobra.Command) (*settings, *pollsync.PendingSet, error) {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	s, err := loadSettings(v)
	if err != nil {
		return nil, nil, err
	}
	pending, err := loadPending(afero.NewOsFs(), s)
	if err != nil {
		return nil, nil, err
	}
	return s, pending, nil
}

// loadPending reads the manifest into a pending set. A missing manifest is
// only accepted when mirroring the whole directory.
func loadPending(fsys afero.Fs, s *settings) (*pollsync.PendingSet, error) {
	pending := pollsync.NewPendingSet()

	manifest, err := pollsync.LoadManifest(fsys, s.manifestPath)
	if err != nil {
		if s.cfg.MirrorAll && errors.Is(err, fs.ErrNotExist) {
			return pending, nil
		}
		return nil, err
	}
	if err := pending.Initialize(manifest.Files); err != nil {
		return nil, err
	}
	return pending, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, pending, err := prepare(cmd)
	if err != nil {
		return err
	}
	if err := s.creds.Validate(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s@%s %s -> %s: %d file(s), %d round(s), delay %s\n",
		s.creds.User, s.creds.Host, s.cfg.RemoteDirectory, s.cfg.LocalDirectory,
		pending.Len(), s.cfg.MaxIterations, s.cfg.Delay)
	if pending.Len() > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(pending.Names(), "\n"))
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, pending, err := prepare(cmd)
	if err != nil {
		return err
	}
	if err := s.creds.Validate(); err != nil {
		return err
	}

	lock, err := pollsync.LockDirectory(s.cfg.LocalDirectory)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	logger := slog.Default().With("run_id", uuid.NewString())
	logger.Info("sync starting",
		"host", s.creds.Host,
		"protocol", s.creds.Protocol,
		"remote", s.cfg.RemoteDirectory,
		"local", s.cfg.LocalDirectory,
		"files", pending.Len(),
		"iterations", s.cfg.MaxIterations,
		"delay", s.cfg.Delay,
	)

	tp, err := pollsync.Dial(ctx, s.creds, s.cfg.RemoteDirectory)
	if err != nil {
		return err
	}
	defer tp.Close()

	client := pollsync.NewClient(s.cfg, tp, pollsync.WithSink(pollsync.NewLogSink(logger)))
	res, err := client.Run(ctx, pending)
	if res != nil {
		logSummary(logger, res)
	}
	if err != nil {
		return err
	}
	if res.Outcome != pollsync.OutcomeDone {
		logger.Warn("files still pending", "outcome", res.Outcome.String(), "pending", res.Pending)
	}
	return nil
}

func logSummary(logger *slog.Logger, res *pollsync.Result) {
	rate := "n/a"
	if secs := res.Elapsed.Seconds(); secs > 0 && res.Bytes > 0 {
		rate = humanize.Bytes(uint64(float64(res.Bytes)/secs)) + "/s"
	}
	logger.Info("sync finished",
		"outcome", res.Outcome.String(),
		"rounds", res.Rounds,
		"transferred", len(res.Transferred),
		"skipped", len(res.Skipped),
		"pending", len(res.Pending),
		"size", humanize.Bytes(uint64(res.Bytes)),
		"rate", rate,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("pollsync failed", "error", err)
		closeLogFile()
		stop()
		os.Exit(1)
	}
}
