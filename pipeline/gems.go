package pipeline

import (
	"fmt"

	"github.com/pobbin/bundle/dat"
)

// Gem is one entry of the skill gem listing: the join of BaseItemTypes
// and SkillGems the game's own tooling performs to decide which gems are
// player-visible.
type Gem struct {
	ID    string
	Name  string
	Level uint32
	Color dat.GemColor
}

// Gems joins BaseItemTypes and SkillGems on SkillGems' base_item_type row
// index, keeping only entries whose joined base item has a nonzero
// site_visibility. It does not affect or depend on Pipeline.Run's File
// stream.
func Gems(idx IndexReader) ([]Gem, error) {
	bases, err := loadTable(idx, tableBaseItemTypes)
	if err != nil {
		return nil, err
	}
	skillGems, err := loadTable(idx, tableSkillGems)
	if err != nil {
		return nil, err
	}

	var out []Gem
	for row := range skillGems.Iter() {
		sg := dat.SkillGemsRow{Row: row}
		baseIdx, err := sg.BaseItemType()
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: base_item_type: %w", err)
		}

		baseRow, ok, err := rowAt(bases, baseIdx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: base row %d: %w", baseIdx, err)
		}
		if !ok {
			continue
		}
		bi := dat.BaseItemTypesRow{Row: baseRow}

		visibility, err := bi.SiteVisibility()
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: site_visibility: %w", err)
		}
		if visibility == 0 {
			continue
		}

		id, err := strictString(bi.ID())
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: id: %w", err)
		}
		name, err := strictString(bi.Name())
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: name: %w", err)
		}
		dropLevel, err := bi.DropLevel()
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: drop_level: %w", err)
		}
		color, err := sg.Color()
		if err != nil {
			return nil, fmt.Errorf("pipeline: gems: color: %w", err)
		}

		out = append(out, Gem{ID: id, Name: name, Level: dropLevel, Color: color})
	}
	return out, nil
}
