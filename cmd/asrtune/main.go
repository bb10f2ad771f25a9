package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	seq2seq "github.com/ieee0824/asr-seq2seq"
	"github.com/ieee0824/asr-seq2seq/config"
	"github.com/ieee0824/asr-seq2seq/dataset"
	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
	"github.com/ieee0824/asr-seq2seq/metric"
)

type paramSet struct {
	LMWeight      float64
	BeamWidth     int
	LengthPenalty float64
}

type result struct {
	params paramSet
	rate   float64
	ok     bool // false when every reference was empty
	errors int
	units  int
}

func main() {
	configPath := flag.String("config", "", "path to experiment config (YAML)")
	manifest := flag.String("manifest", "", "comma-separated development manifests (TSV); error counts are pooled")
	lmWeightsStr := flag.String("lm-weights", "0,0.1,0.2,0.3,0.5", "comma-separated LM weights")
	beamsStr := flag.String("beam-widths", "1,4,8", "comma-separated beam widths")
	lenPenStr := flag.String("length-penalties", "0", "comma-separated length penalties")
	workers := flag.Int("workers", 0, "parallel jobs (default: NumCPU)")
	verbose := flag.Bool("v", false, "verbose output")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: asrtune -config CONFIG -manifest MANIFEST")
		fmt.Fprintln(os.Stderr, "  Grid search decoding parameters against one or more development sets.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configPath == "" || *manifest == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}

	lmWeights, err := parseFloats(*lmWeightsStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-lm-weights: %v\n", err)
		os.Exit(1)
	}
	beams, err := parseInts(*beamsStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-beam-widths: %v\n", err)
		os.Exit(1)
	}
	lenPens, err := parseFloats(*lenPenStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-length-penalties: %v\n", err)
		os.Exit(1)
	}
	grid := buildGrid(lmWeights, beams, lenPens)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	log := observe.NewLogger(os.Stderr, *verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	exp, err := seq2seq.Load(cfg, filepath.Dir(*configPath), seq2seq.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	mode, err := exp.Mode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var sets []*dataset.Memory
	utterances := 0
	for _, path := range splitList(*manifest) {
		log.Info("extracting features", "manifest", path)
		ds, err := dataset.LoadManifest(ctx, path, dataset.ManifestOptions{
			Options: exp.DatasetOptions(true),
			Feature: cfg.FeatureParams(),
			Logger:  log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		sets = append(sets, ds)
		utterances += ds.Len()
	}

	fmt.Fprintf(os.Stderr, "Running %d combinations over %d utterances in %d sets on %d workers...\n",
		len(grid), utterances, len(sets), *workers)
	results := make([]result, len(grid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for gi, ps := range grid {
		g.Go(func() error {
			reps := make([]*eval.Report, len(sets))
			for si, ds := range sets {
				rep, err := eval.Evaluate(gctx, ds.Clone(), exp.Model, eval.Options{
					BatchSize: cfg.Eval.BatchSize,
					Mode:      withSearch(mode, ps),
					Oracle:    cfg.Eval.Oracle,
					UNK:       exp.UNK(),
					Logger:    log,
				})
				if err != nil {
					return fmt.Errorf("lm weight %g, beam %d: %w", ps.LMWeight, ps.BeamWidth, err)
				}
				reps[si] = rep
			}
			results[gi] = summarize(ps, pool(reps))
			log.Debug("combination done", "lm_weight", ps.LMWeight, "beam", ps.BeamWidth, "rate", results[gi].rate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rank(results)
	printResults(os.Stdout, results)
}

func buildGrid(lmWeights []float64, beams []int, lenPens []float64) []paramSet {
	var grid []paramSet
	for _, lw := range lmWeights {
		for _, bw := range beams {
			for _, lp := range lenPens {
				grid = append(grid, paramSet{LMWeight: lw, BeamWidth: bw, LengthPenalty: lp})
			}
		}
	}
	return grid
}

// withSearch applies ps to the search of the task being scored.
func withSearch(mode decoder.Mode, ps paramSet) decoder.Mode {
	apply := func(c decoder.Config) decoder.Config {
		c.LMWeight = ps.LMWeight
		c.BeamWidth = ps.BeamWidth
		c.LengthPenalty = ps.LengthPenalty
		return c
	}
	switch m := mode.(type) {
	case decoder.SingleTask:
		m.Search = apply(m.Search)
		return m
	case decoder.Nested:
		m.Primary = apply(m.Primary)
		return m
	case decoder.Joint:
		m.Search = apply(m.Search)
		return m
	}
	return mode
}

// pool merges the primary tally of every report. Reports scored at a
// different granularity than the first are ignored.
func pool(reps []*eval.Report) *metric.Tally {
	var total *metric.Tally
	for _, rep := range reps {
		if len(rep.Tallies) == 0 {
			continue
		}
		t := rep.Tallies[0]
		if total == nil {
			total = metric.NewTally(t.Granularity)
		}
		if t.Granularity == total.Granularity {
			total.Merge(t)
		}
	}
	return total
}

func summarize(ps paramSet, t *metric.Tally) result {
	r := result{params: ps}
	if t == nil {
		return r
	}
	r.rate, r.ok = t.Rate()
	r.errors = t.Sub + t.Ins + t.Del
	r.units = t.RefUnits
	return r
}

// rank orders results by error rate, then prefers the smaller LM weight and
// beam. Results without a rate go last.
func rank(results []result) {
	slices.SortStableFunc(results, func(a, b result) int {
		if a.ok != b.ok {
			if a.ok {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.rate, b.rate); c != 0 {
			return c
		}
		if c := cmp.Compare(a.params.LMWeight, b.params.LMWeight); c != 0 {
			return c
		}
		return cmp.Compare(a.params.BeamWidth, b.params.BeamWidth)
	})
}

func printResults(w io.Writer, results []result) {
	fmt.Fprintf(w, "%-10s %-6s %-14s %8s %8s %8s\n", "LMWeight", "Beam", "LengthPenalty", "Errors", "Units", "Rate")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, r := range results {
		rate := "n/a"
		if r.ok {
			rate = fmt.Sprintf("%.2f%%", r.rate*100)
		}
		fmt.Fprintf(w, "%-10.2f %-6d %-14.2f %8d %8d %8s\n",
			r.params.LMWeight, r.params.BeamWidth, r.params.LengthPenalty, r.errors, r.units, rate)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloats(s string) ([]float64, error) {
	var vals []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", part)
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("no values in %q", s)
	}
	return vals, nil
}

func parseInts(s string) ([]int, error) {
	var vals []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", part)
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("no values in %q", s)
	}
	return vals, nil
}
