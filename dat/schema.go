package dat

// Schemas may drift across archive versions: these are thin, named
// wrappers over a plain Row, kept separate from the reader itself so a
// new archive version can swap in different offsets without touching
// File/Row.

// BaseItemTypesRow is one row of the BaseItemTypes table.
type BaseItemTypesRow struct{ Row Row }

func (r BaseItemTypesRow) ID() (UTF16String, error)   { return r.Row.StringRef(0) }
func (r BaseItemTypesRow) Name() (UTF16String, error) { return r.Row.StringRef(32) }
func (r BaseItemTypesRow) DropLevel() (uint32, error) { return r.Row.U32(48) }
func (r BaseItemTypesRow) SiteVisibility() (uint32, error) {
	return r.Row.U32(124)
}
func (r BaseItemTypesRow) ItemVisualIdentity() (uint64, error) {
	return r.Row.U64(128)
}

// ItemVisualIdentityRow is one row of the ItemVisualIdentity table.
type ItemVisualIdentityRow struct{ Row Row }

func (r ItemVisualIdentityRow) ID() (UTF16String, error)      { return r.Row.StringRef(0) }
func (r ItemVisualIdentityRow) DDSFile() (UTF16String, error) { return r.Row.StringRef(8) }

// IsAlternateArt reports whether this visual identity is an alternate-art
// variant, which the asset pipeline skips to avoid a name collision with
// the primary art.
func (r ItemVisualIdentityRow) IsAlternateArt() (bool, error) {
	v, err := r.Row.U8(300)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// UniqueStashLayoutRow is one row of the UniqueStashLayout table.
type UniqueStashLayoutRow struct{ Row Row }

func (r UniqueStashLayoutRow) Words() (uint64, error)             { return r.Row.U64(0) }
func (r UniqueStashLayoutRow) ItemVisualIdentity() (uint64, error) { return r.Row.U64(16) }
func (r UniqueStashLayoutRow) ShowIfEmptyChallengeLeague() (bool, error) {
	v, err := r.Row.U8(64)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// WordsRow is one row of the Words table.
type WordsRow struct{ Row Row }

func (r WordsRow) Text() (UTF16String, error) { return r.Row.StringRef(48) }

// GemColor is a SkillGems row's display color.
type GemColor int

const (
	GemColorUnknown GemColor = iota
	GemColorRed
	GemColorGreen
	GemColorBlue
	GemColorWhite
)

func gemColorFromU32(v uint32) GemColor {
	switch v {
	case 1:
		return GemColorRed
	case 2:
		return GemColorGreen
	case 3:
		return GemColorBlue
	case 4:
		return GemColorWhite
	default:
		return GemColorUnknown
	}
}

// SkillGemsRow is one row of the SkillGems table.
type SkillGemsRow struct{ Row Row }

func (r SkillGemsRow) BaseItemType() (uint64, error) { return r.Row.U64(0) }
func (r SkillGemsRow) Strength() (uint32, error)     { return r.Row.U32(32) }
func (r SkillGemsRow) Dexterity() (uint32, error)    { return r.Row.U32(36) }
func (r SkillGemsRow) Intelligence() (uint32, error) { return r.Row.U32(40) }

func (r SkillGemsRow) Color() (GemColor, error) {
	v, err := r.Row.U32(83)
	if err != nil {
		return GemColorUnknown, err
	}
	return gemColorFromU32(v), nil
}
