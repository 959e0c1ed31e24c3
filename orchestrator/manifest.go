package orchestrator

import (
	"os"

	jsoniter "github.com/json-iterator/go"
)

var manifestJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ManifestEntry records one file the orchestrator wrote: the name it was
// written under, the pipeline output name it was produced from, its
// kind, and its final on-disk size.
type ManifestEntry struct {
	Name       string `json:"name"`
	SourcePath string `json:"source_path"`
	Kind       string `json:"kind"`
	Size       int64  `json:"size"`
}

// WriteManifest encodes entries as indented JSON at path.
func WriteManifest(path string, entries []ManifestEntry) error {
	if entries == nil {
		entries = []ManifestEntry{}
	}
	data, err := manifestJSON.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
