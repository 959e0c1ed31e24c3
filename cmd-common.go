package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pobbin/bundle/bytesource"
	"github.com/pobbin/bundle/hashing"
	"github.com/pobbin/bundle/oozcodec"
)

var (
	FlagSource = &cli.StringFlag{
		Name:     "source",
		Usage:    "path to a local directory of bundle containers",
		EnvVars:  []string{"BUNDLE_SOURCE"},
		Category: "source",
	}
	FlagSourceURL = &cli.StringFlag{
		Name:     "source-url",
		Usage:    "base URL to fetch bundle containers from over HTTP range requests",
		EnvVars:  []string{"BUNDLE_SOURCE_URL"},
		Category: "source",
	}
	FlagCacheDir = &cli.StringFlag{
		Name:    "cache-dir",
		Usage:   "directory to cache containers fetched over --source-url (leave empty to cache in memory only)",
		EnvVars: []string{"BUNDLE_CACHE_DIR"},
	}
	FlagCodec = &cli.StringFlag{
		Name:    "codec",
		Usage:   "decompression codec for container chunks: native or store (store is for fixtures without the proprietary codec available)",
		Value:   "native",
		EnvVars: []string{"BUNDLE_CODEC"},
	}
	FlagHashStrategy = &cli.StringFlag{
		Name:    "hash-strategy",
		Usage:   "path-key hash strategy used by the index bundle: murmur2 or fnv1a",
		Value:   "murmur2",
		EnvVars: []string{"BUNDLE_HASH_STRATEGY"},
	}
)

func openSource(c *cli.Context) (bytesource.Source, error) {
	switch {
	case c.String(FlagSourceURL.Name) != "":
		upstream, err := bytesource.NewHTTP(c.String(FlagSourceURL.Name))
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", FlagSourceURL.Name, err)
		}
		if dir := c.String(FlagCacheDir.Name); dir != "" {
			return bytesource.NewCached(upstream, bytesource.NewOnDiskDir(dir)), nil
		}
		return bytesource.NewCached(upstream, bytesource.NewInMemoryMap()), nil
	case c.String(FlagSource.Name) != "":
		return bytesource.NewLocal(c.String(FlagSource.Name)), nil
	default:
		return nil, fmt.Errorf("one of --%s or --%s is required", FlagSource.Name, FlagSourceURL.Name)
	}
}

func resolveCodec(c *cli.Context) (oozcodec.Decompressor, error) {
	switch c.String(FlagCodec.Name) {
	case "native":
		return oozcodec.NewNative(), nil
	case "store":
		return oozcodec.Store{}, nil
	default:
		return nil, fmt.Errorf("unknown --%s %q: want native or store", FlagCodec.Name, c.String(FlagCodec.Name))
	}
}

func resolveHashStrategy(c *cli.Context) (hashing.Strategy, error) {
	switch c.String(FlagHashStrategy.Name) {
	case "murmur2":
		return hashing.Murmur2_64A, nil
	case "fnv1a":
		return hashing.FNV1a64, nil
	default:
		return 0, fmt.Errorf("unknown --%s %q: want murmur2 or fnv1a", FlagHashStrategy.Name, c.String(FlagHashStrategy.Name))
	}
}
