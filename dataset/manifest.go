package dataset

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/audio"
	"github.com/ieee0824/asr-seq2seq/feature"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
)

// ManifestOptions configures manifest loading.
type ManifestOptions struct {
	Options
	Feature feature.Config
	Workers int // feature extraction goroutines; 0 means GOMAXPROCS
	Logger  *slog.Logger
}

// Entry is one manifest line.
type Entry struct {
	ID      string
	Audio   string // resolved WAV path
	Text    string
	TextSub string
}

// ParseManifest reads tab-separated lines of the form
//
//	id <TAB> wav path <TAB> transcript [<TAB> sub transcript]
//
// Relative WAV paths are resolved against dir. Blank lines and lines
// starting with '#' are skipped.
func ParseManifest(r io.Reader, dir string) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]int)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("manifest line %d: want 3 or 4 tab-separated fields, got %d", lineNo, len(fields))
		}
		e := Entry{ID: fields[0], Audio: fields[1], Text: fields[2]}
		if len(fields) == 4 {
			e.TextSub = fields[3]
		}
		if e.ID == "" || e.Audio == "" {
			return nil, fmt.Errorf("manifest line %d: empty id or audio path", lineNo)
		}
		if prev, ok := seen[e.ID]; ok {
			return nil, fmt.Errorf("manifest line %d: duplicate id %q (first on line %d)", lineNo, e.ID, prev)
		}
		seen[e.ID] = lineNo
		if !filepath.IsAbs(e.Audio) {
			e.Audio = filepath.Join(dir, e.Audio)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return entries, nil
}

// LoadManifest reads the manifest at path, extracts features of every WAV
// file concurrently and returns the dataset.
func LoadManifest(ctx context.Context, path string, opts ManifestOptions) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := ParseManifest(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return FromEntries(ctx, entries, opts)
}

// FromEntries extracts features for entries and builds the dataset. Labels
// are encoded from the transcripts unless the dataset is a test set.
func FromEntries(ctx context.Context, entries []Entry, opts ManifestOptions) (*Memory, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	log := observe.OrDefault(opts.Logger)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	utts := make([]Utterance, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			feats, err := loadFeatures(e.Audio, opts.Feature)
			if err != nil {
				return fmt.Errorf("dataset: utterance %q: %w", e.ID, err)
			}
			u := Utterance{ID: e.ID, Features: feats, Text: e.Text, TextSub: e.TextSub}
			if !opts.Test {
				u.Labels = encodeText(opts.Vocab, opts.LabelType, e.Text)
				if opts.LabelTypeSub != "" {
					u.LabelsSub = encodeText(opts.Vocab, opts.LabelTypeSub, e.TextSub)
				}
			}
			utts[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug("manifest loaded", "utterances", len(utts), "workers", workers)
	return New(utts, opts.Options)
}

func loadFeatures(path string, cfg feature.Config) (*mat.Dense, error) {
	samples, h, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	if int(h.SampleRate) != cfg.SampleRate {
		return nil, fmt.Errorf("%s: sample rate %d, want %d", path, h.SampleRate, cfg.SampleRate)
	}
	return feature.Extract(samples, cfg)
}
