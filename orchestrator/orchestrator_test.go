package orchestrator

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pobbin/bundle/pipeline"
)

type fakeImageEncoder struct {
	fail bool
}

func (f *fakeImageEncoder) EncodeWebP(img image.Image) ([]byte, error) {
	if f.fail {
		return nil, errors.New("encode failed")
	}
	return []byte("webp-bytes"), nil
}

type fakeFontConverter struct {
	fail bool
}

func (f *fakeFontConverter) ConvertWOFF2(name string, data []byte) ([]byte, error) {
	if f.fail {
		return nil, errors.New("convert failed")
	}
	return []byte("woff2-bytes"), nil
}

func newTestOrchestrator(t *testing.T, imgFail, fontFail bool) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	o := &Orchestrator{cfg: Config{
		OutputDir:     dir,
		ImageDecoder:  nil,
		ImageEncoder:  &fakeImageEncoder{fail: imgFail},
		FontConverter: &fakeFontConverter{fail: fontFail},
	}}
	return o, dir
}

func TestWriteOutput_Image(t *testing.T) {
	o, dir := newTestOrchestrator(t, false, false)
	entry, err := o.writeOutput(pipeline.Output{
		Name:  "Art/2DItems/Foo.dds",
		Kind:  pipeline.KindBase,
		Image: image.NewRGBA(image.Rect(0, 0, 1, 1)),
	})
	require.NoError(t, err)
	require.Equal(t, "Art/2DItems/Foo.webp", entry.Name)
	require.Equal(t, int64(len("webp-bytes")), entry.Size)

	data, err := os.ReadFile(filepath.Join(dir, "Art", "2DItems", "Foo.webp"))
	require.NoError(t, err)
	require.Equal(t, "webp-bytes", string(data))
}

func TestWriteOutput_ImageEncodeFailureIsSkippedNotFatal(t *testing.T) {
	o, _ := newTestOrchestrator(t, true, false)
	_, err := o.writeOutput(pipeline.Output{
		Name:  "Art/2DItems/Foo.dds",
		Kind:  pipeline.KindBase,
		Image: image.NewRGBA(image.Rect(0, 0, 1, 1)),
	})
	require.Error(t, err)
	var skipped *itemSkipped
	require.ErrorAs(t, err, &skipped)
}

func TestWriteOutput_Font(t *testing.T) {
	o, dir := newTestOrchestrator(t, false, false)
	entry, err := o.writeOutput(pipeline.Output{
		Name: "test.ttf",
		Kind: pipeline.KindFont,
		Raw:  []byte("ttf-bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, "test.woff2", entry.Name)

	data, err := os.ReadFile(filepath.Join(dir, "test.woff2"))
	require.NoError(t, err)
	require.Equal(t, "woff2-bytes", string(data))
}

func TestWriteOutput_RawPassthrough(t *testing.T) {
	o, dir := newTestOrchestrator(t, false, false)
	entry, err := o.writeOutput(pipeline.Output{
		Name: "Other/readme.txt",
		Kind: pipeline.KindFile,
		Raw:  []byte("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, "Other/readme.txt", entry.Name)

	data, err := os.ReadFile(filepath.Join(dir, "Other", "readme.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestWriteManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	entries := []ManifestEntry{
		{Name: "a.webp", SourcePath: "Art/a.dds", Kind: "base", Size: 10},
	}
	require.NoError(t, WriteManifest(path, entries))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "a.webp")
	require.Contains(t, string(data), "Art/a.dds")
}
