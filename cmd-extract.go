package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/pobbin/bundle/orchestrator"
	"github.com/pobbin/bundle/pipeline"
)

var (
	FlagOutput = &cli.StringFlag{
		Name:     "output",
		Usage:    "directory to write extracted assets and manifest.json to",
		Required: true,
	}
	FlagConcurrency = &cli.IntFlag{
		Name:  "concurrency",
		Usage: "number of concurrent asset writers",
		Value: 4,
	}
	FlagCodecPlugin = &cli.StringFlag{
		Name:     "codec-plugin",
		Usage:    "path to a Go plugin (.so) exporting ImageDecoder, ImageEncoder, and FontConverter symbols",
		Required: true,
	}
	FlagCoordMode = &cli.StringFlag{
		Name:  "ui-atlas-coord-mode",
		Usage: "how a UI atlas line's bottom-right coordinate is interpreted: inclusive or exclusive",
		Value: "inclusive",
	}
	FlagMetricsAddr = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "if set, serve Prometheus metrics at http://<addr>/metrics for the duration of the run",
	}
)

func newCmd_Extract() *cli.Command {
	return &cli.Command{
		Name:        "extract",
		Usage:       "Extract assets from a bundle into plain files on disk.",
		Description: "Opens the master index bundle, walks every base item, unique stash layout, UI atlas icon, and loose file it names, and writes each one under --output. No font resources are registered, so no fonts are written.",
		Flags: []cli.Flag{
			FlagSource,
			FlagSourceURL,
			FlagCacheDir,
			FlagCodec,
			FlagHashStrategy,
			FlagOutput,
			FlagConcurrency,
			FlagCodecPlugin,
			FlagCoordMode,
			FlagMetricsAddr,
		},
		Action: func(c *cli.Context) error {
			source, err := openSource(c)
			if err != nil {
				return err
			}
			codec, err := resolveCodec(c)
			if err != nil {
				return err
			}
			strategy, err := resolveHashStrategy(c)
			if err != nil {
				return err
			}

			var coordMode pipeline.CoordMode
			switch c.String(FlagCoordMode.Name) {
			case "inclusive":
				coordMode = pipeline.CoordInclusive
			case "exclusive":
				coordMode = pipeline.CoordExclusive
			default:
				return fmt.Errorf("unknown --%s %q: want inclusive or exclusive", FlagCoordMode.Name, c.String(FlagCoordMode.Name))
			}

			decoder, encoder, converter, err := loadCodecPlugin(c.String(FlagCodecPlugin.Name))
			if err != nil {
				return err
			}

			p := pipeline.New(coordMode)
			p.Select(func(pipeline.File) bool { return true })

			orch, err := orchestrator.New(orchestrator.Config{
				Source:        source,
				Codec:         codec,
				Strategy:      strategy,
				Pipeline:      p,
				ImageDecoder:  decoder,
				ImageEncoder:  encoder,
				FontConverter: converter,
				OutputDir:     c.String(FlagOutput.Name),
				Concurrency:   c.Int(FlagConcurrency.Name),
			})
			if err != nil {
				return err
			}

			if addr := c.String(FlagMetricsAddr.Name); addr != "" {
				orchestrator.ServeMetrics(c.Context, addr)
			}

			summary, err := orch.Run(c.Context)
			if summary == nil {
				return err
			}
			if err != nil {
				klog.Warningf("extract: some items were skipped: %v", err)
			}

			klog.Infof("extract: wrote %d files (%d bytes)", summary.FilesWritten, summary.BytesWritten)
			return nil
		},
	}
}
