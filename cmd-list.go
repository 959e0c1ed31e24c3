package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pobbin/bundle/bundleindex"
)

func newCmd_List() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List every loose file path named by a bundle's master index.",
		Description: "Opens the master index bundle and prints the path of every file it references, one per line.",
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

			names, err := idx.Files()
			if err != nil {
				return fmt.Errorf("listing files: %w", err)
			}
			for name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}
