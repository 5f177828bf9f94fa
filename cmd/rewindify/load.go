package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/navinbhat12/rewindify/internal/api"
	"github.com/navinbhat12/rewindify/internal/common/config"
	apphttp "github.com/navinbhat12/rewindify/internal/common/http"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/history"
	"github.com/navinbhat12/rewindify/internal/ingest"
)

var (
	loadServer  string
	loadTimeout time.Duration
)

// uploader is satisfied by both the in-process service and the API client.
type uploader interface {
	CreateSession(ctx context.Context) (*history.SessionInfo, error)
	Ingest(ctx context.Context, req ingest.ChunkRequest) (*history.IngestResult, error)
}

var loadCmd = &cobra.Command{
	Use:   "load <directory>",
	Short: "Ingest a directory of streaming history exports into a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var summary *loadSummary
		if loadServer != "" {
			summary, err = loadRemote(ctx, cfg, loadServer, loadTimeout, args[0])
		} else {
			summary, err = loadLocal(ctx, cfg, args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session_id:        %s\n", summary.SessionID)
		fmt.Fprintf(out, "files_processed:   %d\n", summary.FilesProcessed)
		fmt.Fprintf(out, "records_inserted:  %d\n", summary.RecordsInserted)
		fmt.Fprintf(out, "elapsed:           %s\n", summary.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(out, "records_per_second: %.0f\n", summary.RecordsPerSecond())
		return nil
	},
}

type loadSummary struct {
	SessionID       string
	FilesProcessed  int
	RecordsInserted int
	Elapsed         time.Duration
}

func (s loadSummary) RecordsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.RecordsInserted) / s.Elapsed.Seconds()
}

func init() {
	loadCmd.Flags().StringVar(&loadServer, "server", "", "upload to a running server at this base URL instead of the local stores")
	loadCmd.Flags().DurationVar(&loadTimeout, "timeout", apphttp.DefaultTimeout, "per-request timeout for --server uploads")
}

func loadLocal(ctx context.Context, cfg *config.Config, dir string) (*loadSummary, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	return loadDirectory(ctx, a.service, a.reassembler.Normalizer(), dir, a.log)
}

func loadRemote(ctx context.Context, cfg *config.Config, server string, timeout time.Duration, dir string) (*loadSummary, error) {
	log := logger.NewZapAdapter(logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output))

	ingestCfg, err := ingest.NewConfig(cfg.Ingest)
	if err != nil {
		return nil, err
	}
	client := api.NewClient(server, apphttp.NewClient(timeout, log))
	return loadDirectory(ctx, client, ingest.NewNormalizer(ingestCfg, log), dir, log)
}

// loadDirectory sends every matching file as one chunk of a single upload,
// so the first file replaces and the rest append.
func loadDirectory(ctx context.Context, up uploader, filter *ingest.Normalizer, dir string, log logger.Logger) (*loadSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filter.Accepts(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no export files in %s", dir)
	}
	sort.Strings(names)

	info, err := up.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &loadSummary{SessionID: info.SessionID}
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		res, err := up.Ingest(ctx, ingest.ChunkRequest{
			SessionID:  info.SessionID,
			ChunkIndex: i,
			ChunkTotal: len(names),
			Files:      []ingest.File{{Name: name, Data: data}},
		})
		if err != nil {
			// a rejected file only fails its own chunk
			log.Warn("File not loaded", map[string]interface{}{"file": name, "error": err.Error()})
			continue
		}
		summary.FilesProcessed += res.FilesProcessed
		summary.RecordsInserted += res.RecordsInserted
	}
	summary.Elapsed = time.Since(start)
	return summary, nil
}
