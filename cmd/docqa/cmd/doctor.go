package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/internal/config"
	"github.com/Aman-CERP/docqa/internal/embed"
	"github.com/Aman-CERP/docqa/internal/ingest"
	"github.com/Aman-CERP/docqa/internal/output"
	"github.com/Aman-CERP/docqa/internal/preflight"
	"github.com/Aman-CERP/docqa/internal/store"
)

// errChecksFailed is returned when a required check fails.
var errChecksFailed = errors.New("system check failed")

func newDoctorCmd() *cobra.Command {
	var verbose bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that docqa can run",
		Long: `Check data directories, the relational store, the vector index, the
embedding provider and the queue broker. The broker is optional for
command-line use, so an unreachable broker is only a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checker := newDoctorChecker(loadedConfig, cmd, verbose)
			results := checker.RunAll(cmd.Context())

			if jsonOutput {
				if err := output.New(cmd.OutOrStdout()).JSON(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errChecksFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDoctorChecker(cfg *config.Config, cmd *cobra.Command, verbose bool) *preflight.Checker {
	return preflight.New(
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithVerbose(verbose),
		preflight.WithDataDirs(filepath.Dir(cfg.Store.Path), cfg.Vector.Dir),
		preflight.WithProbe(preflight.Probe{Name: "store", Required: true, Check: storeProbe(cfg)}),
		preflight.WithProbe(preflight.Probe{Name: "vector_index", Required: true, Check: vectorProbe(cfg)}),
		preflight.WithProbe(preflight.Probe{Name: "embedder", Required: true, Check: embedderProbe(cfg)}),
		preflight.WithProbe(preflight.Probe{Name: "queue", Check: queueProbe(cfg)}),
	)
}

func storeProbe(cfg *config.Config) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return "", err
		}
		defer func() { _ = s.Close() }()

		docs, err := s.CountDocuments(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d documents", docs), nil
	}
}

// vectorProbe opens the index read-only, which fails on a corrupt manifest
// and while another process holds the index.
func vectorProbe(cfg *config.Config) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		ivfCfg := store.DefaultIVFConfig(cfg.Vector.Dir, cfg.Vector.Dimensions)
		ivfCfg.NList = cfg.Vector.NList
		ivfCfg.NProbe = cfg.Vector.NProbe
		ivfCfg.ReadOnly = true
		v, err := store.OpenIVFIndex(ivfCfg)
		if err != nil {
			return "", err
		}
		defer func() { _ = v.Close() }()

		stats := v.Stats()
		return fmt.Sprintf("%d vectors, %s, generation %d", stats.TotalVectors, stats.State, stats.Generation), nil
	}
}

func embedderProbe(cfg *config.Config) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
		if err != nil {
			return "", err
		}
		e, err := embed.NewEmbedder(ctx, embed.Config{
			Provider:   provider,
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Vector.Dimensions,
			Timeout:    cfg.Embeddings.Timeout,
			CacheSize:  -1,
		})
		if err != nil {
			return "", err
		}
		defer func() { _ = e.Close() }()
		return fmt.Sprintf("%s (%d dims)", e.ModelName(), e.Dimensions()), nil
	}
}

func queueProbe(cfg *config.Config) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		transport := ingest.NewAMQPTransport(amqpConfig(cfg))
		n, err := transport.Ping(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s reachable, %d jobs waiting", transport.Queue(), n), nil
	}
}
