package main

import (
	"fmt"
	"plugin"

	"github.com/pobbin/bundle/orchestrator"
	"github.com/pobbin/bundle/pipeline"
)

// loadCodecPlugin opens a Go plugin (.so) built with `go build
// -buildmode=plugin`) and resolves the three external collaborators the
// extraction pipeline needs: DDS decoding, webp encoding, and woff2
// conversion. This binary never implements image or font codecs itself;
// a plugin is the boundary where a deployment supplies its own.
//
// The plugin must export three package-level variables, each satisfying
// the corresponding interface:
//
//	var ImageDecoder pipeline.ImageDecoder
//	var ImageEncoder orchestrator.ImageEncoder
//	var FontConverter orchestrator.FontConverter
func loadCodecPlugin(path string) (pipeline.ImageDecoder, orchestrator.ImageEncoder, orchestrator.FontConverter, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening codec plugin %s: %w", path, err)
	}

	decoder, err := lookupSymbol[pipeline.ImageDecoder](p, "ImageDecoder")
	if err != nil {
		return nil, nil, nil, err
	}
	encoder, err := lookupSymbol[orchestrator.ImageEncoder](p, "ImageEncoder")
	if err != nil {
		return nil, nil, nil, err
	}
	converter, err := lookupSymbol[orchestrator.FontConverter](p, "FontConverter")
	if err != nil {
		return nil, nil, nil, err
	}

	return decoder, encoder, converter, nil
}

func lookupSymbol[T any](p *plugin.Plugin, name string) (T, error) {
	var zero T
	sym, err := p.Lookup(name)
	if err != nil {
		return zero, fmt.Errorf("codec plugin: missing symbol %s: %w", name, err)
	}
	ptr, ok := sym.(*T)
	if !ok {
		return zero, fmt.Errorf("codec plugin: symbol %s does not satisfy the expected interface", name)
	}
	return *ptr, nil
}
