package pipeline

import (
	"errors"
	"fmt"

	"github.com/pobbin/bundle/dat"
)

// Well-known table and atlas names resolved through the index bundle.
const (
	tableBaseItemTypes      = "Data/BaseItemTypes.dat64"
	tableItemVisualIdentity = "Data/ItemVisualIdentity.dat64"
	tableUniqueStashLayout  = "Data/UniqueStashLayout.dat64"
	tableWords              = "Data/Words.dat64"
	tableSkillGems          = "Data/SkillGems.dat64"
	uiAtlasPath             = "Art/UIImages1.txt"
)

// ErrMandatoryTableMissing is returned when one of the pipeline's
// required DAT tables has no entry in the index; the orchestrator treats
// this as fatal.
var ErrMandatoryTableMissing = errors.New("pipeline: mandatory table missing")

// ErrUIAtlasMissing is returned when Art/UIImages1.txt has no entry in
// the index; the orchestrator treats this as fatal.
var ErrUIAtlasMissing = errors.New("pipeline: UI image atlas missing")

func loadTable(idx IndexReader, name string) (*dat.File, error) {
	data, ok, err := idx.ReadByName(name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMandatoryTableMissing, name)
	}
	f, err := dat.Open(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parsing %s: %w", name, err)
	}
	return f, nil
}

// rowAt bounds-checks index against the table's row count before reading
// it; a false second return means the index pointed past the end of the
// table (treated by callers as a per-item skip, not an error).
func rowAt(f *dat.File, index uint64) (dat.Row, bool, error) {
	if index >= uint64(f.RowCount()) {
		return dat.Row{}, false, nil
	}
	row, err := f.Get(int(index))
	if err != nil {
		return dat.Row{}, false, err
	}
	return row, true, nil
}
