// Package pipeline joins a handful of known DAT tables and the UI-image
// atlas into a single stream of logical output files: base items, unique
// items, UI atlas sprites, and raw passthrough bundle files, each
// optionally filtered, renamed, and post-processed by caller-registered
// rules before being handed to the orchestrator for final encoding.
package pipeline

import (
	"fmt"
	"image"
	"image/draw"
	"iter"
	"path"
	"strings"

	"k8s.io/klog/v2"

	"github.com/pobbin/bundle/dat"
	"github.com/pobbin/bundle/internal/metrics"
)

// IndexReader is the subset of bundleindex.Index the pipeline needs: a
// name-keyed lookup and a full path enumeration. Declared locally so
// pipeline can be tested against a fake without importing bundleindex.
type IndexReader interface {
	ReadByName(name string) ([]byte, bool, error)
	Files() (iter.Seq[string], error)
}

// ImageDecoder decodes a source art payload (the archive's DDS family)
// into a standard image.Image. It is an external collaborator: this
// package never implements DDS decoding itself.
type ImageDecoder interface {
	Decode(data []byte) (image.Image, error)
}

// FileKind distinguishes the five families of output the pipeline
// produces.
type FileKind int

const (
	KindBase FileKind = iota
	KindUnique
	KindArt
	KindFile
	KindFont
)

func (k FileKind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindUnique:
		return "unique"
	case KindArt:
		return "art"
	case KindFile:
		return "file"
	case KindFont:
		return "font"
	default:
		return "unknown"
	}
}

// File is one candidate output, before matching/renaming/post-processing
// has run: the join result for a Base or Unique row, a UI atlas sprite
// descriptor, or a raw bundle path.
type File struct {
	Kind       FileKind
	ID         string
	Name       string
	IVI        uint64
	SourcePath string
	Crop       image.Rectangle
	HasCrop    bool
}

// Matcher decides whether a File should be kept. Matchers registered with
// Pipeline.Select are OR-combined: a file is kept if any matcher accepts
// it.
type Matcher func(File) bool

// Renamer proposes an output name for a File. Renamers run in
// registration order; the last one to return true wins.
type Renamer func(File) (string, bool)

// PostProcessOp mutates a decoded image, e.g. to apply a palette swap or
// a border.
type PostProcessOp interface {
	Apply(img image.Image) (image.Image, error)
}

type postProcessor struct {
	match Matcher
	op    PostProcessOp
}

// CoordMode selects whether a UI atlas line's bottom-right coordinate is
// exclusive or inclusive of the pixel at (x2, y2). Archive versions have
// used both conventions; see UIImageLine.Rect.
type CoordMode int

const (
	CoordExclusive CoordMode = iota
	CoordInclusive
)

// Pipeline accumulates selection, renaming, post-processing, and font
// rules, then Run walks the DAT tables and UI atlas to produce the
// resulting Output stream.
type Pipeline struct {
	matchers  []Matcher
	renamers  []Renamer
	posts     []postProcessor
	fonts     []string
	coordMode CoordMode
}

// New returns an empty Pipeline. coordMode governs how UI atlas
// coordinates are interpreted (see CoordMode).
func New(coordMode CoordMode) *Pipeline {
	return &Pipeline{coordMode: coordMode}
}

// Select registers a matcher; a file is kept if any registered matcher
// accepts it.
func (p *Pipeline) Select(m Matcher) { p.matchers = append(p.matchers, m) }

// Rename registers a renamer, run in registration order after selection.
func (p *Pipeline) Rename(r Renamer) { p.renamers = append(p.renamers, r) }

// PostProcess registers an image op applied to every File that match
// accepts, in registration order.
func (p *Pipeline) PostProcess(match Matcher, op PostProcessOp) {
	p.posts = append(p.posts, postProcessor{match: match, op: op})
}

// Font registers a font resource path, emitted once as its own Output at
// the end of the run.
func (p *Pipeline) Font(path string) { p.fonts = append(p.fonts, path) }

func (p *Pipeline) accepts(f File) bool {
	for _, m := range p.matchers {
		if m(f) {
			return true
		}
	}
	return false
}

func (p *Pipeline) rename(f File) string {
	name := f.Name
	for _, r := range p.renamers {
		if n, ok := r(f); ok {
			name = n
		}
	}
	return name
}

func (p *Pipeline) postProcess(f File, img image.Image) (image.Image, error) {
	var err error
	for _, pp := range p.posts {
		if !pp.match(f) {
			continue
		}
		img, err = pp.op.Apply(img)
		if err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Output is one finished pipeline item: either a decoded (and possibly
// cropped/post-processed) image destined for webp encoding, or raw bytes
// copied through unchanged (a non-.dds bundle file, or a font resource).
type Output struct {
	Name  string
	Kind  FileKind
	Image image.Image
	Raw   []byte
}

// Run pulls BaseItemTypes, ItemVisualIdentity, UniqueStashLayout, Words,
// and the UI image atlas from idx, and returns a lazy sequence of every
// selected, renamed, and post-processed Output in the order: bases,
// uniques, UI atlas entries, raw bundle files, fonts. A missing mandatory
// table or UI atlas is a fatal error; failures on individual items are
// logged and skipped.
func (p *Pipeline) Run(idx IndexReader, decoder ImageDecoder) (iter.Seq[Output], error) {
	bases, err := loadTable(idx, tableBaseItemTypes)
	if err != nil {
		return nil, err
	}
	ivis, err := loadTable(idx, tableItemVisualIdentity)
	if err != nil {
		return nil, err
	}
	uniques, err := loadTable(idx, tableUniqueStashLayout)
	if err != nil {
		return nil, err
	}
	words, err := loadTable(idx, tableWords)
	if err != nil {
		return nil, err
	}

	atlasData, ok, err := idx.ReadByName(uiAtlasPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading %s: %w", uiAtlasPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUIAtlasMissing, uiAtlasPath)
	}
	atlas, err := ParseUIImages(atlasData)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parsing %s: %w", uiAtlasPath, err)
	}

	names, err := idx.Files()
	if err != nil {
		return nil, fmt.Errorf("pipeline: enumerating raw files: %w", err)
	}

	return func(yield func(Output) bool) {
		if !p.emitBases(bases, ivis, idx, decoder, yield) {
			return
		}
		if !p.emitUniques(uniques, words, ivis, idx, decoder, yield) {
			return
		}
		if !p.emitUIAtlas(atlas, idx, decoder, yield) {
			return
		}
		if !p.emitRawFiles(names, idx, decoder, yield) {
			return
		}
		p.emitFonts(idx, yield)
	}, nil
}

func (p *Pipeline) emitBases(bases, ivis *dat.File, idx IndexReader, decoder ImageDecoder, yield func(Output) bool) bool {
	for row := range bases.Iter() {
		bi := dat.BaseItemTypesRow{Row: row}
		id, err := strictString(bi.ID())
		if err != nil {
			warnSkip(KindBase, "<unknown>", "id", err)
			continue
		}
		name, err := strictString(bi.Name())
		if err != nil {
			warnSkip(KindBase, id, "name", err)
			continue
		}
		ivi, err := bi.ItemVisualIdentity()
		if err != nil {
			warnSkip(KindBase, id, "item_visual_identity", err)
			continue
		}

		f := File{Kind: KindBase, ID: id, Name: name, IVI: ivi}
		if !p.accepts(f) {
			continue
		}
		if !p.emitVisualIdentity(f, ivis, idx, decoder, yield) {
			return false
		}
	}
	return true
}

func (p *Pipeline) emitUniques(uniques, words, ivis *dat.File, idx IndexReader, decoder ImageDecoder, yield func(Output) bool) bool {
	for row := range uniques.Iter() {
		u := dat.UniqueStashLayoutRow{Row: row}
		wordsIdx, err := u.Words()
		if err != nil {
			warnSkip(KindUnique, "<unknown>", "words", err)
			continue
		}
		iviIdx, err := u.ItemVisualIdentity()
		if err != nil {
			warnSkip(KindUnique, "<unknown>", "item_visual_identity", err)
			continue
		}

		wordsRow, ok, err := rowAt(words, wordsIdx)
		if err != nil {
			warnSkip(KindUnique, "<unknown>", "words row", err)
			continue
		}
		if !ok {
			metrics.PipelineItemsTotal.WithLabelValues(KindUnique.String(), "skipped").Inc()
			klog.Warningf("pipeline: unique: words index %d out of range", wordsIdx)
			continue
		}
		name, err := strictString(dat.WordsRow{Row: wordsRow}.Text())
		if err != nil {
			warnSkip(KindUnique, "<unknown>", "words text", err)
			continue
		}

		iviRow, ok, err := rowAt(ivis, iviIdx)
		if err != nil {
			warnSkip(KindUnique, name, "visual identity row", err)
			continue
		}
		if !ok {
			metrics.PipelineItemsTotal.WithLabelValues(KindUnique.String(), "skipped").Inc()
			klog.Warningf("pipeline: unique %s: visual identity index %d out of range", name, iviIdx)
			continue
		}
		id, err := strictString(dat.ItemVisualIdentityRow{Row: iviRow}.ID())
		if err != nil {
			warnSkip(KindUnique, name, "visual identity id", err)
			continue
		}

		f := File{Kind: KindUnique, ID: id, Name: name, IVI: iviIdx}
		if !p.accepts(f) {
			continue
		}
		if !p.emitVisualIdentity(f, ivis, idx, decoder, yield) {
			return false
		}
	}
	return true
}

// emitVisualIdentity resolves f.IVI against the ItemVisualIdentity table,
// skips alternate-art variants, decodes the referenced .dds file, applies
// matching post-processors, and yields one Output under the renamed name.
func (p *Pipeline) emitVisualIdentity(f File, ivis *dat.File, idx IndexReader, decoder ImageDecoder, yield func(Output) bool) bool {
	row, ok, err := rowAt(ivis, f.IVI)
	if err != nil {
		warnSkip(f.Kind, f.ID, "visual identity row", err)
		return true
	}
	if !ok {
		metrics.PipelineItemsTotal.WithLabelValues(f.Kind.String(), "skipped").Inc()
		klog.Warningf("pipeline: %s %s: visual identity index %d out of range", f.Kind, f.ID, f.IVI)
		return true
	}
	ivi := dat.ItemVisualIdentityRow{Row: row}

	alt, err := ivi.IsAlternateArt()
	if err != nil {
		warnSkip(f.Kind, f.ID, "is_alternate_art", err)
		return true
	}
	if alt {
		metrics.PipelineItemsTotal.WithLabelValues(f.Kind.String(), "skipped_alternate_art").Inc()
		return true
	}

	ddsPath, err := strictString(ivi.DDSFile())
	if err != nil {
		warnSkip(f.Kind, f.ID, "dds_file", err)
		return true
	}

	data, found, err := idx.ReadByName(ddsPath)
	if err != nil {
		warnSkip(f.Kind, f.ID, "reading "+ddsPath, err)
		return true
	}
	if !found {
		metrics.PipelineItemsTotal.WithLabelValues(f.Kind.String(), "skipped").Inc()
		klog.Warningf("pipeline: %s %s: missing dds file %s", f.Kind, f.ID, ddsPath)
		return true
	}

	img, err := decoder.Decode(data)
	if err != nil {
		warnSkip(f.Kind, f.ID, "decoding "+ddsPath, err)
		return true
	}
	img, err = p.postProcess(f, img)
	if err != nil {
		warnSkip(f.Kind, f.ID, "post-processing", err)
		return true
	}

	metrics.PipelineItemsTotal.WithLabelValues(f.Kind.String(), "ok").Inc()
	return yield(Output{Name: p.rename(f), Kind: f.Kind, Image: img})
}

func (p *Pipeline) emitUIAtlas(lines []UIImageLine, idx IndexReader, decoder ImageDecoder, yield func(Output) bool) bool {
	for _, line := range lines {
		f := File{Kind: KindArt, Name: line.Name, SourcePath: line.File, Crop: line.Rect(p.coordMode), HasCrop: true}
		if !p.accepts(f) {
			continue
		}

		data, found, err := idx.ReadByName(line.File)
		if err != nil {
			warnSkip(KindArt, f.Name, "reading "+line.File, err)
			continue
		}
		if !found {
			metrics.PipelineItemsTotal.WithLabelValues(KindArt.String(), "skipped").Inc()
			klog.Warningf("pipeline: art %s: missing source %s", f.Name, line.File)
			continue
		}

		img, err := decoder.Decode(data)
		if err != nil {
			warnSkip(KindArt, f.Name, "decoding "+line.File, err)
			continue
		}
		img = cropImage(img, f.Crop)
		img, err = p.postProcess(f, img)
		if err != nil {
			warnSkip(KindArt, f.Name, "post-processing", err)
			continue
		}

		metrics.PipelineItemsTotal.WithLabelValues(KindArt.String(), "ok").Inc()
		if !yield(Output{Name: p.rename(f), Kind: KindArt, Image: img}) {
			return false
		}
	}
	return true
}

func (p *Pipeline) emitRawFiles(names iter.Seq[string], idx IndexReader, decoder ImageDecoder, yield func(Output) bool) bool {
	for name := range names {
		isDDS := strings.EqualFold(path.Ext(name), ".dds")
		defaultName := name
		if isDDS {
			defaultName = strings.TrimSuffix(name, path.Ext(name))
		}
		f := File{Kind: KindFile, Name: defaultName, SourcePath: name}
		if !p.accepts(f) {
			continue
		}

		data, found, err := idx.ReadByName(name)
		if err != nil {
			warnSkip(KindFile, name, "reading", err)
			continue
		}
		if !found {
			metrics.PipelineItemsTotal.WithLabelValues(KindFile.String(), "skipped").Inc()
			klog.Warningf("pipeline: raw file %s: not found", name)
			continue
		}

		if !isDDS {
			metrics.PipelineItemsTotal.WithLabelValues(KindFile.String(), "ok").Inc()
			if !yield(Output{Name: p.rename(f), Kind: KindFile, Raw: data}) {
				return false
			}
			continue
		}

		img, err := decoder.Decode(data)
		if err != nil {
			warnSkip(KindFile, name, "decoding", err)
			continue
		}
		img, err = p.postProcess(f, img)
		if err != nil {
			warnSkip(KindFile, name, "post-processing", err)
			continue
		}
		metrics.PipelineItemsTotal.WithLabelValues(KindFile.String(), "ok").Inc()
		if !yield(Output{Name: p.rename(f), Kind: KindFile, Image: img}) {
			return false
		}
	}
	return true
}

func (p *Pipeline) emitFonts(idx IndexReader, yield func(Output) bool) bool {
	for _, fp := range p.fonts {
		data, found, err := idx.ReadByName(fp)
		if err != nil {
			warnSkip(KindFont, fp, "reading", err)
			continue
		}
		if !found {
			metrics.PipelineItemsTotal.WithLabelValues(KindFont.String(), "skipped").Inc()
			klog.Warningf("pipeline: font %s: not found", fp)
			continue
		}
		metrics.PipelineItemsTotal.WithLabelValues(KindFont.String(), "ok").Inc()
		if !yield(Output{Name: path.Base(fp), Kind: KindFont, Raw: data}) {
			return false
		}
	}
	return true
}

func cropImage(img image.Image, rect image.Rectangle) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

func strictString(s dat.UTF16String, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return s.Strict()
}

func warnSkip(kind FileKind, id, what string, err error) {
	metrics.PipelineItemsTotal.WithLabelValues(kind.String(), "error").Inc()
	klog.Warningf("pipeline: %s %s: %s: %v", kind, id, what, err)
}
