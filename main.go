package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/execx"
	"media-indexer/internal/indexer"
	"media-indexer/internal/logging"
	"media-indexer/internal/metrics"
	"media-indexer/internal/pipeline"
	"media-indexer/internal/search"
	"media-indexer/internal/slots"
	"media-indexer/internal/ui"
)

var (
	flagConfig      string
	flagScan        []string
	flagConcurrency int
	flagSave        string
	flagCache       string
	flagPersistent  bool
	flagNoUI        bool
	flagVerbose     bool
	flagQuiet       bool
)

var rootCmd = &cobra.Command{
	Use:   "media-indexer [directories...]",
	Short: "Index media files into a content-addressed catalog",
	Long: `media-indexer walks the given directories, converts every image, text
and video file it recognizes, stores the results content-addressed and
records each unique work once in the catalog, merging duplicates.`,
	Args: cobra.ArbitraryArgs,
	RunE: run,

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// .env values only fill in unset environment variables
	_ = godotenv.Load()

	f := rootCmd.Flags()
	f.StringVarP(&flagConfig, "config", "c", "", "path to the TOML configuration file")
	f.StringSliceVarP(&flagScan, "scan", "s", nil, "directory to scan (repeatable)")
	f.IntVarP(&flagConcurrency, "concurrency", "j", 0, "number of conversion slots")
	f.StringVar(&flagSave, "save", "", "root of the content-addressed save tree")
	f.StringVar(&flagCache, "cache", "", "indexed-path cache file")
	f.BoolVar(&flagPersistent, "persistent", false, "keep rescanning on the configured interval")
	f.BoolVar(&flagNoUI, "no-ui", false, "disable the terminal progress display")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "log errors only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case flagVerbose:
		logging.SetLevel(logging.LevelDebug)
	case flagQuiet:
		logging.SetLevel(logging.LevelError)
	}

	cfg, err := config.ReadFromFile(flagConfig)
	if err != nil {
		return err
	}

	cfg.Scan = append(cfg.Scan, flagScan...)
	cfg.Scan = append(cfg.Scan, args...)
	if flagConcurrency > 0 {
		cfg.Concurrency = flagConcurrency
	}
	if flagSave != "" {
		cfg.Save = flagSave
	}
	if flagCache != "" {
		cfg.Cache = flagCache
	}
	if flagPersistent {
		cfg.Scanner.Persistent = true
	}

	resolved, err := cfg.Resolve()
	if err != nil {
		return err
	}
	if len(resolved.Scan) == 0 {
		return fmt.Errorf("nothing to scan: give directories as arguments or via --scan")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(ctx, resolved.Database.URL, resolved.Database.Collection)
	if err != nil {
		return err
	}
	defer store.Close()

	var idx search.Index = search.Disabled{}
	if resolved.Search.Enabled {
		fts, err := search.Open(ctx, resolved.Search.Path)
		if err != nil {
			return err
		}
		defer fts.Close()
		idx = fts
	}

	if resolved.Metrics.Enabled {
		metrics.Serve(resolved.Metrics.Listen)
	}

	pool := slots.NewPool(resolved.Concurrency)

	var display ui.UI = ui.Noop{}
	if !flagNoUI && !logging.IsDebugEnabled() {
		if t := ui.NewTerminal(pool.Size()); t != nil {
			display = t
		}
	}
	defer display.Close()

	env := &pipeline.Env{
		Runner: execx.OSRunner{},
		Store:  store,
		Search: idx,
		Pool:   pool,
		UI:     display,
		Cfg:    resolved,
	}
	ix := indexer.New(env)

	// SIGUSR1 flushes the indexed-path cache without stopping the run
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for range usr1 {
			if err := ix.FlushIndexCache(); err != nil {
				logging.Error("cannot flush index cache: %v", err)
			}
		}
	}()

	if err := ix.Run(ctx); err != nil {
		return err
	}
	if ix.Stats.Failed.Load() > 0 {
		return fmt.Errorf("%d files failed to convert", ix.Stats.Failed.Load())
	}
	return nil
}
