// Command convergence-trial runs concurrent versioned-upsert trials against a
// relational store and verifies that the persisted record converges on the
// highest submitted version.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upsertcore/internal/engine"
	"upsertcore/internal/harness"
	"upsertcore/internal/report"
	"upsertcore/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "convergence-trial",
		Short:        "Run concurrent versioned-upsert trials and verify convergence",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}
	flags := cmd.Flags()
	flags.String("driver", "sqlite", "store driver: sqlite or postgres")
	flags.String("dsn", "trial.db", "connection endpoint (file path for sqlite, DSN for postgres)")
	flags.Int("workers", 5, "concurrent proposals per trial")
	flags.Int("trials", 1, "number of trials to run")
	flags.String("isolation", "read-committed", "isolation level: read-uncommitted, read-committed, repeatable-read, serializable")
	flags.Duration("stagger", 200*time.Millisecond, "per-worker start delay so operations accumulate before any begins")
	flags.Duration("timeout", 5*time.Second, "bounded wait for each trial's operations")
	flags.String("archive-dir", "", "archive trial reports as JSON under this directory")
	flags.Bool("archive-s3", false, "archive trial reports to S3 (UPSERTCORE_REPORT_S3_* env)")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address while trials run")
	flags.Bool("verbose", false, "enable debug logging")
	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("UPSERTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	level := slog.LevelInfo
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	isolation, err := store.ParseIsolation(v.GetString("isolation"))
	if err != nil {
		return err
	}

	st, err := openStore(v.GetString("driver"), v.GetString("dsn"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.Ping(ctx); err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	archiver, err := openArchiver(ctx, v)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := harness.NewMetrics(registry)
	if addr := v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	workers := v.GetInt("workers")
	trials := v.GetInt("trials")
	diverged := 0
	for i := 0; i < trials; i++ {
		id := uuid.New()
		subs := make([]harness.Submission, 0, workers)
		for version := 1; version <= workers; version++ {
			subs = append(subs, harness.Submission{
				Name:    fmt.Sprintf("proposal v%d", version),
				Version: int64(version),
			})
		}
		trial := harness.Trial{
			Store:       st,
			ID:          id,
			Submissions: subs,
			Isolation:   isolation,
			Stagger:     v.GetDuration("stagger"),
			Timeout:     v.GetDuration("timeout"),
			Logger:      logger,
			Metrics:     metrics,
		}

		started := time.Now()
		results, runErr := trial.Run(ctx)
		finished := time.Now()
		if errors.Is(runErr, harness.ErrTimeout) {
			logger.Warn("trial timed out", "trial", i, "id", id)
		}

		want, _ := harness.Expected(subs)
		verifyErr := harness.Verify(ctx, st, id, want.Name, want.Version)
		if verifyErr != nil {
			diverged++
			logger.Error("trial diverged", "trial", i, "id", id, "error", verifyErr)
		} else {
			logger.Info("trial converged", "trial", i, "id", id, "version", want.Version, "elapsed", finished.Sub(started))
		}

		if archiver != nil {
			var row *engine.Record
			if rec, err := st.Event(ctx, id); err == nil {
				row = &rec
			}
			rep := report.Build(id, st.Dialect().Name(), isolation.String(), results, row, verifyErr, started, finished)
			if err := archiver.Put(ctx, id.String(), rep); err != nil {
				logger.Warn("archive report", "id", id, "error", err)
			}
		}
	}
	if diverged > 0 {
		return fmt.Errorf("%d of %d trials diverged", diverged, trials)
	}
	return nil
}

func openStore(driver, dsn string) (*store.Store, error) {
	switch driver {
	case "sqlite":
		return store.OpenSQLite(dsn)
	case "postgres":
		return store.OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func openArchiver(ctx context.Context, v *viper.Viper) (report.Archiver, error) {
	if v.GetBool("archive-s3") {
		return report.OpenS3FromEnv(ctx)
	}
	if dir := v.GetString("archive-dir"); dir != "" {
		return report.NewFS(dir)
	}
	return nil, nil
}
