// Package orchestrator wires a byte source to the index bundle and asset
// selector pipeline, then writes the resulting files under an output
// directory: images through a caller-supplied webp encoder, fonts
// through a caller-supplied woff2 converter, everything else copied
// through unchanged.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/pobbin/bundle/bundleindex"
	"github.com/pobbin/bundle/bytesource"
	"github.com/pobbin/bundle/hashing"
	"github.com/pobbin/bundle/internal/metrics"
	"github.com/pobbin/bundle/oozcodec"
	"github.com/pobbin/bundle/pipeline"
)

// ImageEncoder encodes a decoded, post-processed image to the
// orchestrator's on-disk output format. An external collaborator: this
// package never ships an image codec of its own.
type ImageEncoder interface {
	EncodeWebP(img image.Image) ([]byte, error)
}

// FontConverter converts a raw font resource, as stored in the archive,
// to the orchestrator's on-disk output format. An external collaborator.
type FontConverter interface {
	ConvertWOFF2(name string, data []byte) ([]byte, error)
}

// Config wires one Orchestrator run.
type Config struct {
	Source        bytesource.Source
	Codec         oozcodec.Decompressor
	Strategy      hashing.Strategy
	Pipeline      *pipeline.Pipeline
	ImageDecoder  pipeline.ImageDecoder
	ImageEncoder  ImageEncoder
	FontConverter FontConverter
	OutputDir     string
	Concurrency   int
}

// Orchestrator drives component E/F/G over a byte source and writes the
// resulting outputs to disk.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and returns an Orchestrator ready to Run.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.OutputDir == "" {
		return nil, errors.New("orchestrator: OutputDir is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("orchestrator: Pipeline is required")
	}
	if cfg.ImageDecoder == nil || cfg.ImageEncoder == nil || cfg.FontConverter == nil {
		return nil, errors.New("orchestrator: ImageDecoder, ImageEncoder, and FontConverter are all required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Summary reports what one Run produced.
type Summary struct {
	FilesWritten int
	BytesWritten int64
	Manifest     []ManifestEntry
}

// itemSkipped marks a per-item encode/convert failure as non-fatal: it is
// logged, accumulated into the run's combined warning, and the item is
// dropped rather than written.
type itemSkipped struct{ err error }

func (s *itemSkipped) Error() string { return s.err.Error() }
func (s *itemSkipped) Unwrap() error { return s.err }

// Run opens the index bundle, executes the configured pipeline, and
// writes every output under OutputDir, sharding the work across
// Concurrency workers. Per-item encode/convert failures are logged and
// skipped, accumulated into the returned error via multierr; a write I/O
// failure, or a missing mandatory table or UI atlas from the pipeline,
// aborts the whole run.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	idx, err := bundleindex.Open(o.cfg.Source, o.cfg.Codec, o.cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening index: %w", err)
	}

	outputs, err := o.cfg.Pipeline.Run(idx, o.cfg.ImageDecoder)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: running pipeline: %w", err)
	}

	if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: creating output directory: %w", err)
	}

	progress := mpb.New(mpb.WithWidth(60))
	bar := progress.New(0,
		mpb.SpinnerStyle().PositionLeft(),
		mpb.PrependDecorators(decor.Name("extracting")),
		mpb.AppendDecorators(decor.CountersNoUnit("%d done")),
	)
	defer progress.Wait()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.Concurrency)

	var (
		mu       sync.Mutex
		written  []ManifestEntry
		bytesOut int64
		warnings error
	)

	work := make(chan pipeline.Output)
	group.Go(func() error {
		defer close(work)
		for out := range outputs {
			select {
			case work <- out:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < o.cfg.Concurrency; i++ {
		group.Go(func() error {
			for out := range work {
				entry, err := o.writeOutput(out)
				if err != nil {
					var skipped *itemSkipped
					if errors.As(err, &skipped) {
						mu.Lock()
						warnings = multierr.Append(warnings, skipped.err)
						mu.Unlock()
						continue
					}
					return err
				}
				mu.Lock()
				written = append(written, entry)
				bytesOut += entry.Size
				mu.Unlock()
				bar.Increment()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	manifestPath := filepath.Join(o.cfg.OutputDir, "manifest.json")
	if err := WriteManifest(manifestPath, written); err != nil {
		return nil, fmt.Errorf("orchestrator: writing manifest: %w", err)
	}

	klog.Infof("orchestrator: wrote %d files (%s) to %s", len(written), humanize.Bytes(uint64(bytesOut)), o.cfg.OutputDir)

	return &Summary{FilesWritten: len(written), BytesWritten: bytesOut, Manifest: written}, warnings
}

// writeOutput encodes/converts out as needed and writes it under
// OutputDir, creating parent directories on demand. A non-nil error that
// is not an *itemSkipped is a fatal disk I/O failure.
func (o *Orchestrator) writeOutput(out pipeline.Output) (ManifestEntry, error) {
	name := out.Name
	kind := out.Kind.String()
	var data []byte

	switch {
	case out.Image != nil:
		encoded, err := o.cfg.ImageEncoder.EncodeWebP(out.Image)
		if err != nil {
			metrics.PipelineItemsTotal.WithLabelValues(kind, "encode_error").Inc()
			klog.Warningf("orchestrator: encoding %s: %v", name, err)
			return ManifestEntry{}, &itemSkipped{fmt.Errorf("encoding %s: %w", name, err)}
		}
		data = encoded
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".webp"

	case out.Kind == pipeline.KindFont:
		converted, err := o.cfg.FontConverter.ConvertWOFF2(name, out.Raw)
		if err != nil {
			metrics.PipelineItemsTotal.WithLabelValues(kind, "convert_error").Inc()
			klog.Warningf("orchestrator: converting font %s: %v", name, err)
			return ManifestEntry{}, &itemSkipped{fmt.Errorf("converting font %s: %w", name, err)}
		}
		data = converted
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".woff2"

	default:
		data = out.Raw
	}

	dest := filepath.Join(o.cfg.OutputDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ManifestEntry{}, fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return ManifestEntry{}, fmt.Errorf("writing %s: %w", dest, err)
	}

	return ManifestEntry{Name: name, SourcePath: out.Name, Kind: kind, Size: int64(len(data))}, nil
}
