package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	seq2seq "github.com/ieee0824/asr-seq2seq"
	"github.com/ieee0824/asr-seq2seq/config"
	"github.com/ieee0824/asr-seq2seq/dataset"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
	"github.com/ieee0824/asr-seq2seq/metric"
)

func main() {
	configPath := flag.String("config", "", "path to experiment config (YAML)")
	manifest := flag.String("manifest", "", "path to evaluation manifest (TSV)")
	name := flag.String("name", "eval", "name reported on metrics")
	workers := flag.Int("workers", 0, "feature extraction workers (default: GOMAXPROCS)")
	worst := flag.Int("worst", 0, "print the N utterances with the most errors")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	verbose := flag.Bool("v", false, "verbose output")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: asreval -config CONFIG -manifest MANIFEST")
		fmt.Fprintln(os.Stderr, "  Decodes every utterance of the manifest and reports error rates.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configPath == "" || *manifest == "" {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := observe.NewLogger(os.Stderr, *verbose)
	opts := runOptions{
		config:      *configPath,
		manifest:    *manifest,
		name:        *name,
		workers:     *workers,
		worst:       *worst,
		metricsAddr: *metricsAddr,
	}
	if err := run(ctx, opts, os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	config      string
	manifest    string
	name        string
	workers     int
	worst       int
	metricsAddr string
}

func run(ctx context.Context, o runOptions, out io.Writer, log *slog.Logger) error {
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "asreval"})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer provider.Shutdown(context.Background())
	metrics, err := observe.NewMetrics(provider.MeterProvider())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if o.metricsAddr != "" {
		go func() {
			if err := provider.Serve(ctx, o.metricsAddr); err != nil {
				log.Error("metrics server stopped", "addr", o.metricsAddr, "err", err)
			}
		}()
	}

	cfg, err := config.Load(o.config)
	if err != nil {
		return err
	}
	exp, err := seq2seq.Load(cfg, filepath.Dir(o.config),
		seq2seq.WithLogger(log), seq2seq.WithMetrics(metrics))
	if err != nil {
		return err
	}
	mode, err := exp.Mode()
	if err != nil {
		return err
	}

	log.Info("extracting features", "manifest", o.manifest)
	ds, err := dataset.LoadManifest(ctx, o.manifest, dataset.ManifestOptions{
		Options: exp.DatasetOptions(true),
		Feature: cfg.FeatureParams(),
		Workers: o.workers,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	log.Info("evaluating", "utterances", ds.Len(), "mode", cfg.Eval.Mode)

	rep, err := eval.Evaluate(ctx, ds, exp.Model, eval.Options{
		Name:      o.name,
		BatchSize: cfg.Eval.BatchSize,
		Mode:      mode,
		Oracle:    cfg.Eval.Oracle,
		UNK:       exp.UNK(),
		Logger:    log,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	fmt.Fprint(out, rep)
	if o.worst > 0 {
		printWorst(out, rep, o.worst)
	}

	if names, err := provider.Gather(); err == nil {
		log.Debug("metrics recorded", "families", strings.Join(names, ","))
	}
	return nil
}

func printWorst(w io.Writer, rep *eval.Report, n int) {
	grans := order(rep)
	g := grans[0]
	sep := metric.Separator
	if g == metric.Char {
		sep = ""
	}
	fmt.Fprintf(w, "\nWorst %d utterances (%s):\n", n, g.Name())
	for _, u := range rep.Worst(n) {
		fmt.Fprintf(w, "%s\terrors=%d\tsimilarity=%.3f\n", u.ID, u.Errors(grans), u.Similarity)
		fmt.Fprintf(w, "  %s\n", metric.RenderDiff(metric.Diff(g.Units(u.Ref), g.Units(u.Hyp)), sep))
	}
}

func order(rep *eval.Report) []metric.Granularity {
	out := make([]metric.Granularity, len(rep.Tallies))
	for i, t := range rep.Tallies {
		out[i] = t.Granularity
	}
	return out
}
