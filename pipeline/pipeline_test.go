package pipeline

import (
	"encoding/binary"
	"image"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pobbin/bundle/dat"
)

func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2+2)
	for _, r := range s {
		out = append(out, byte(r), 0)
	}
	return append(out, 0, 0)
}

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:off+8], v) }

func buildDatFile(rowCount uint32, row []byte, varData []byte) []byte {
	data := make([]byte, 4+len(row)+8+len(varData))
	binary.LittleEndian.PutUint32(data[0:4], rowCount)
	copy(data[4:], row)
	boundary := 4 + len(row)
	for i := 0; i < 8; i++ {
		data[boundary+i] = 0xBB
	}
	copy(data[boundary+8:], varData)
	return data
}

func emptyDatFile() []byte {
	return buildDatFile(0, nil, nil)
}

type fakeIndex struct {
	files map[string][]byte
	order []string
}

func (f *fakeIndex) ReadByName(name string) ([]byte, bool, error) {
	d, ok := f.files[name]
	return d, ok, nil
}

func (f *fakeIndex) Files() (iter.Seq[string], error) {
	order := f.order
	return func(yield func(string) bool) {
		for _, n := range order {
			if !yield(n) {
				return
			}
		}
	}, nil
}

type fakeDecoder struct{ calls int }

func (d *fakeDecoder) Decode(data []byte) (image.Image, error) {
	d.calls++
	return image.NewRGBA(image.Rect(0, 0, 40, 40)), nil
}

func buildFixtureIndex() *fakeIndex {
	var baseVar []byte
	idOff := uint64(8 + len(baseVar)) // relative to the boundary; the region proper starts after the 8-byte magic
	baseVar = append(baseVar, utf16le("Metadata/Items/Test")...)
	nameOff := uint64(8 + len(baseVar))
	baseVar = append(baseVar, utf16le("Test Item")...)

	baseRow := make([]byte, 136)
	putU64(baseRow, 0, idOff)
	putU64(baseRow, 32, nameOff)
	putU32(baseRow, 48, 5)
	putU32(baseRow, 124, 1)
	putU64(baseRow, 128, 0) // item_visual_identity row index 0
	baseItemTypes := buildDatFile(1, baseRow, baseVar)

	var iviVar []byte
	iviIDOff := uint64(8 + len(iviVar))
	iviVar = append(iviVar, utf16le("Metadata/Items/TestVisual")...)
	ddsOff := uint64(8 + len(iviVar))
	iviVar = append(iviVar, utf16le("Art/2DItems/Test.dds")...)

	iviRow := make([]byte, 301)
	putU64(iviRow, 0, iviIDOff)
	putU64(iviRow, 8, ddsOff)
	iviRow[300] = 0 // not alternate art
	itemVisualIdentity := buildDatFile(1, iviRow, iviVar)

	uniqueStashLayout := emptyDatFile()
	words := emptyDatFile()

	atlas := []byte(`"IconX" "Art/atlas.dds" 10 20 29 39` + "\n")

	return &fakeIndex{
		files: map[string][]byte{
			tableBaseItemTypes:         baseItemTypes,
			tableItemVisualIdentity:    itemVisualIdentity,
			tableUniqueStashLayout:     uniqueStashLayout,
			tableWords:                words,
			uiAtlasPath:                atlas,
			"Art/2DItems/Test.dds":     []byte("dds-bytes"),
			"Art/atlas.dds":            []byte("atlas-bytes"),
			"Other/readme.txt":         []byte("hello"),
			"Art/2DArt/Things/foo.dds": []byte("foo-dds-bytes"),
			"Fonts/test.ttf":           []byte("font-bytes"),
		},
		order: []string{"Other/readme.txt", "Art/2DArt/Things/foo.dds"},
	}
}

func TestPipeline_Run_FullOrdering(t *testing.T) {
	idx := buildFixtureIndex()
	decoder := &fakeDecoder{}

	p := New(CoordInclusive)
	p.Select(func(File) bool { return true })
	p.Font("Fonts/test.ttf")

	seq, err := p.Run(idx, decoder)
	require.NoError(t, err)

	var outputs []Output
	for out := range seq {
		outputs = append(outputs, out)
	}
	require.Len(t, outputs, 5)

	require.Equal(t, KindBase, outputs[0].Kind)
	require.Equal(t, "Test Item", outputs[0].Name)
	require.NotNil(t, outputs[0].Image)

	require.Equal(t, KindArt, outputs[1].Kind)
	require.Equal(t, "IconX", outputs[1].Name)
	require.Equal(t, 20, outputs[1].Image.Bounds().Dx())
	require.Equal(t, 20, outputs[1].Image.Bounds().Dy())

	require.Equal(t, KindFile, outputs[2].Kind)
	require.Equal(t, "Other/readme.txt", outputs[2].Name)
	require.Equal(t, []byte("hello"), outputs[2].Raw)

	require.Equal(t, KindFile, outputs[3].Kind)
	require.Equal(t, "Art/2DArt/Things/foo", outputs[3].Name)
	require.NotNil(t, outputs[3].Image)

	require.Equal(t, KindFont, outputs[4].Kind)
	require.Equal(t, "test.ttf", outputs[4].Name)
	require.Equal(t, []byte("font-bytes"), outputs[4].Raw)
}

func TestPipeline_Run_SkipsAlternateArt(t *testing.T) {
	idx := buildFixtureIndex()
	ivi := idx.files[tableItemVisualIdentity]
	// Flip is_alternate_art on: byte 300 of the single 301-byte row, which
	// starts right after the 4-byte row count (file offset 4 + 300).
	ivi[4+300] = 1

	decoder := &fakeDecoder{}
	p := New(CoordInclusive)
	p.Select(func(f File) bool { return f.Kind == KindBase })

	seq, err := p.Run(idx, decoder)
	require.NoError(t, err)

	var outputs []Output
	for out := range seq {
		outputs = append(outputs, out)
	}
	require.Empty(t, outputs)
}

func TestPipeline_Run_MissingMandatoryTable(t *testing.T) {
	idx := buildFixtureIndex()
	delete(idx.files, tableBaseItemTypes)

	p := New(CoordInclusive)
	_, err := p.Run(idx, &fakeDecoder{})
	require.ErrorIs(t, err, ErrMandatoryTableMissing)
}

func TestGems_FiltersOnSiteVisibility(t *testing.T) {
	var baseVar []byte
	idOff := uint64(8 + len(baseVar)) // relative to the boundary; the region proper starts after the 8-byte magic
	baseVar = append(baseVar, utf16le("Metadata/Items/Gem")...)
	nameOff := uint64(8 + len(baseVar))
	baseVar = append(baseVar, utf16le("Fireball")...)

	baseRow := make([]byte, 136)
	putU64(baseRow, 0, idOff)
	putU64(baseRow, 32, nameOff)
	putU32(baseRow, 48, 12)
	putU32(baseRow, 124, 1) // visible
	baseItemTypes := buildDatFile(1, baseRow, baseVar)

	gemRow := make([]byte, 87)
	putU64(gemRow, 0, 0) // base_item_type row index 0
	putU32(gemRow, 83, 2) // green
	skillGems := buildDatFile(1, gemRow, nil)

	idx := &fakeIndex{files: map[string][]byte{
		tableBaseItemTypes: baseItemTypes,
		tableSkillGems:     skillGems,
	}}

	gems, err := Gems(idx)
	require.NoError(t, err)
	require.Len(t, gems, 1)
	require.Equal(t, "Metadata/Items/Gem", gems[0].ID)
	require.Equal(t, "Fireball", gems[0].Name)
	require.Equal(t, uint32(12), gems[0].Level)
	require.Equal(t, dat.GemColorGreen, gems[0].Color)
}
