package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/archive"
	"github.com/pulsekit/pulsekit/pkg/exporter"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/tui"
	"github.com/pulsekit/pulsekit/pkg/util"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Batch pending signals and upload everything",
	Long: `Flush groups un-batched events and spans into batches, then
uploads every pending batch oldest first. Retryable failures leave
batches in place for the next flush.

Examples:
  pulsekit flush
  pulsekit flush --config ./pulsekit.yaml -v`,
	RunE: runFlush,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show capture store counters",
	RunE:  runStats,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the capture store to parquet files",
	Long: `Dump writes events, spans, and sessions as parquet files for
offline analysis. The store is left untouched.

Examples:
  pulsekit dump -o ./dump
  pulsekit dump --compression SNAPPY`,
	RunE: runDump,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored signal, batch, and blob",
	RunE:  runPurge,
}

func runFlush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	ctx := cmd.Context()

	store, err := storage.NewStore(cfg.Get().Storage.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	files, err := storage.NewFileStore(cfg.Get().Storage.FilesDir, log)
	if err != nil {
		return err
	}

	clock := util.NewTimeProvider()
	ids := util.NewIdProvider()
	creator := exporter.NewBatchCreator(store, cfg, exporter.NewLocalLocker(), clock, ids, log)
	httpClient := exporter.NewHTTPClient(
		time.Duration(cfg.Get().Export.TimeoutMs)*time.Millisecond,
		cfg.Get().Export.MaxRedirects, log)
	netClient := exporter.NewNetworkClient(httpClient, store, files, cfg, log)
	exp := exporter.NewExporter(store, files, creator, netClient, cfg, log)

	existing, err := store.ExistingBatches(ctx)
	if err != nil {
		return err
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	tui.Header(version)
	tui.Row("Pending batches", tui.FormatNumber(int64(len(existing))))
	tui.Row("Un-batched events", tui.FormatNumber(stats.UnbatchedEvents))
	tui.Row("Un-batched spans", tui.FormatNumber(stats.UnbatchedSpans))
	fmt.Println()

	if len(existing) == 0 && stats.UnbatchedEvents == 0 && stats.UnbatchedSpans == 0 {
		tui.Success("Nothing to flush")
		return nil
	}

	// One extra tick for the batch a flush may create.
	bar := tui.ShowProgress(int64(len(existing))+1, "uploading")
	shipped := 0
	var archiveHook func(context.Context, *model.Batch)
	if ac := cfg.Get().Archive; ac.Enabled {
		var backend archive.Backend
		if ac.Backend == "s3" {
			backend, err = archive.NewS3Backend(ctx, archive.S3Config{
				Bucket: ac.S3Bucket, Prefix: ac.S3Prefix, Region: ac.S3Region,
			})
		} else {
			backend, err = archive.NewLocalBackend(ac.LocalDir)
		}
		if err != nil {
			return err
		}
		archiveHook = archive.NewArchiver(backend, store, log).OnExported
	}
	exp.OnExported = func(ctx context.Context, batch *model.Batch) {
		if archiveHook != nil {
			archiveHook(ctx, batch)
		}
		shipped++
		bar.Add(1)
	}

	exp.Export(ctx)
	bar.Finish()

	after, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if after.Batches > 0 {
		tui.Failure(fmt.Sprintf("Shipped %d, %d batches still pending (server unreachable?)",
			shipped, after.Batches))
		return nil
	}
	tui.Success(fmt.Sprintf("Shipped %d batches", shipped))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	ctx := cmd.Context()

	store, err := storage.NewStore(cfg.Get().Storage.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	tui.Header(version)
	tui.Row("Database", cfg.Get().Storage.Database)
	tui.Divider()
	tui.Row("Events", tui.FormatNumber(stats.Events))
	tui.Row("  un-batched", tui.FormatNumber(stats.UnbatchedEvents))
	tui.Row("Spans", tui.FormatNumber(stats.Spans))
	tui.Row("  un-batched", tui.FormatNumber(stats.UnbatchedSpans))
	tui.Row("Sessions", tui.FormatNumber(stats.Sessions))
	tui.Row("Batches", tui.FormatNumber(stats.Batches))
	tui.Row("Attachments", fmt.Sprintf("%s (%s)",
		tui.FormatNumber(stats.Attachments), tui.FormatBytes(stats.AttachmentBytes)))
	fmt.Println()
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	ctx := cmd.Context()

	store, err := storage.NewStore(cfg.Get().Storage.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	tui.Header(version)
	result, err := store.DumpParquet(ctx, dumpDir, strings.ToUpper(dumpCompression))
	if err != nil {
		return err
	}

	tui.Row("Events", result.Events)
	tui.Row("Spans", result.Spans)
	tui.Row("Sessions", result.Sessions)
	fmt.Println()
	tui.Success(fmt.Sprintf("Dumped %s rows", tui.FormatNumber(result.Rows)))
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	ctx := cmd.Context()

	if !purgeForce && !confirm("  Delete all stored signals? [y/N]: ") {
		fmt.Println("  Cancelled.")
		return nil
	}

	store, err := storage.NewStore(cfg.Get().Storage.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	before, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if err := store.PurgeAll(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(cfg.Get().Storage.FilesDir); err != nil {
		return err
	}

	tui.Success(fmt.Sprintf("Purged %s events, %s spans, %s attachments",
		tui.FormatNumber(before.Events),
		tui.FormatNumber(before.Spans),
		tui.FormatNumber(before.Attachments)))
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}
