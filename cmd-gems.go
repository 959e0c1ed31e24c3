package main

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/pobbin/bundle/bundleindex"
	"github.com/pobbin/bundle/pipeline"
)

func newCmd_Gems() *cli.Command {
	return &cli.Command{
		Name:        "gems",
		Usage:       "Print the site-visible skill gem table as JSON.",
		Description: "Joins SkillGems against BaseItemTypes, filtered to site-visible rows, and prints the result as a JSON array.",
		Flags: []cli.Flag{
			FlagSource,
			FlagSourceURL,
			FlagCacheDir,
			FlagCodec,
			FlagHashStrategy,
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

			idx, err := bundleindex.Open(source, codec, strategy)
			if err != nil {
				return fmt.Errorf("opening index: %w", err)
			}

			gems, err := pipeline.Gems(idx)
			if err != nil {
				return fmt.Errorf("loading gems: %w", err)
			}

			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(gems, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding gems: %w", err)
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		},
	}
}
