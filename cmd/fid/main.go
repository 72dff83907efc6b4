package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/drakos74/genmetrics/infra/config"
	"github.com/drakos74/genmetrics/internal/dataset"
	"github.com/drakos74/genmetrics/internal/fid"
	"github.com/drakos74/genmetrics/internal/metrics"
	"github.com/drakos74/genmetrics/internal/storage"
	json_storage "github.com/drakos74/genmetrics/internal/storage/file/json"
	"github.com/drakos74/genmetrics/internal/storage/file/npz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage:
  fid [flags] <dir|stats.npz> <dir|stats.npz>
  fid [flags] --save-stats <dir> [output.npz]

Without an output file, --save-stats keeps the statistics in the storage
directory, where --stored picks them up again.
`

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

type options struct {
	tag        string
	configFile string
	storage    string
	batchSize  int
	workers    int
	saveStats  bool
	stored     bool
	metrics    string
	quiet      bool
	paths      []string
}

func parse(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("fid", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.tag, "type", fid.Sketch, "fid variant, one of [cad, cad_v1, sketch, vanilla]")
	fs.StringVar(&opts.configFile, "config", config.File("fid"), "config file (json or yaml)")
	fs.IntVar(&opts.batchSize, "batch-size", 0, "batch size, overrides the config")
	fs.IntVar(&opts.workers, "workers", 0, "image decoding workers, overrides the config")
	fs.StringVar(&opts.storage, "storage", storage.DefaultDir, "root directory for stored statistics and run records")
	fs.BoolVar(&opts.saveStats, "save-stats", false, "compute the statistics of a directory and save them")
	fs.BoolVar(&opts.stored, "stored", false, "use the statistics stored with --save-stats for directory arguments")
	fs.StringVar(&opts.metrics, "metrics", "", "address to expose prometheus metrics on, e.g. :9090")
	fs.BoolVar(&opts.quiet, "quiet", false, "only log warnings and errors")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.paths = fs.Args()

	switch {
	case opts.saveStats && (len(opts.paths) < 1 || len(opts.paths) > 2):
		return opts, fmt.Errorf("--save-stats expects a directory and an optional output file but got %v", opts.paths)
	case !opts.saveStats && len(opts.paths) != 2:
		return opts, fmt.Errorf("expected two paths but got %v", opts.paths)
	}
	return opts, nil
}

// load reads the config file on top of the defaults.
// The default config file is optional.
func load(opts options) (fid.Config, error) {
	cfg := fid.DefaultConfig()
	if _, err := os.Stat(opts.configFile); err == nil || opts.configFile != config.File("fid") {
		if err := config.Load(opts.configFile, &cfg); err != nil {
			return cfg, err
		}
	}
	if opts.batchSize > 0 {
		cfg.BatchSize = opts.batchSize
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.quiet {
		cfg.Verbose = false
	}
	return cfg, cfg.Validate()
}

func isArchive(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".npz")
}

// key identifies the stored statistics of a directory.
func key(tag, dir string) storage.Key {
	return storage.Key{
		Tag:   tag,
		Label: filepath.Base(filepath.Clean(dir)),
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := load(opts)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	root := opts.storage
	if root == "" {
		root = storage.DefaultDir
	}
	runs, err := json_storage.BlobShard(root, storage.RunsDir)(opts.tag)
	if err != nil {
		return err
	}
	stats := npz.NewBlob(root, storage.StatsDir)
	calculator := fid.NewCalculator(cfg).WithRuns(runs)

	if opts.saveStats {
		files, err := dataset.Files(opts.paths[0])
		if err != nil {
			return err
		}
		if len(opts.paths) == 2 {
			out := opts.paths[1]
			if err := calculator.SaveStats(ctx, opts.tag, files, out); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "saved stats to %s\n", out)
			return nil
		}
		k := key(opts.tag, opts.paths[0])
		if err := calculator.StoreStats(ctx, opts.tag, files, stats, k); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "saved stats to %s\n", stats.File(k))
		return nil
	}

	first, second := opts.paths[0], opts.paths[1]
	if isArchive(second) && !isArchive(first) {
		// the distance is symmetric
		first, second = second, first
	}
	if opts.stored && !isArchive(first) && !stored(stats, opts.tag, first) && stored(stats, opts.tag, second) {
		first, second = second, first
	}

	var d float64
	switch {
	case isArchive(second):
		return errors.New("at least one of the paths must be an image directory")
	case isArchive(first):
		files, err := dataset.Files(second)
		if err != nil {
			return err
		}
		d, err = calculator.GivenStatsAndPaths(ctx, opts.tag, first, files)
		if err != nil {
			return err
		}
	case opts.stored && stored(stats, opts.tag, first):
		files, err := dataset.Files(second)
		if err != nil {
			return err
		}
		d, err = calculator.GivenStoredStatsAndPaths(ctx, opts.tag, stats, key(opts.tag, first), files)
		if err != nil {
			return err
		}
	default:
		files1, err := dataset.Files(first)
		if err != nil {
			return err
		}
		files2, err := dataset.Files(second)
		if err != nil {
			return err
		}
		d, err = calculator.GivenPaths(ctx, opts.tag, files1, files2)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "FID: %v\n", d)
	return nil
}

// stored reports whether statistics of the directory were kept with --save-stats.
func stored(stats *npz.BlobStorage, tag, dir string) bool {
	_, err := os.Stat(stats.File(key(tag, dir)))
	return err == nil
}

func main() {
	opts, err := parse(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("could not parse arguments")
	}
	if opts.quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	if opts.metrics != "" {
		go func() {
			if err := metrics.Observer.Serve(opts.metrics); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatal().Err(err).Str("type", opts.tag).Msg("fid computation failed")
	}
}
