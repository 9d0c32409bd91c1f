package engine

type Option string

const (
	OptionNone          Option = ""
	OptionFineBoi       Option = "a-fine-boi"
	OptionHeChonk       Option = "he-chonk"
	OptionHeckinChonker Option = "heckin-chonker"
	OptionHeftyChonk    Option = "hefty-chonk"
	OptionMegaChonker   Option = "mega-chonker"
	OptionOhLawdHeComin Option = "oh-lawd-he-comin"
)

type OptionInfo struct {
	Option Option `json:"option"`
	Weight int    `json:"weight"`
}

// Options lists every estimate a player can pick, smallest first.
var Options = []OptionInfo{
	{Option: OptionFineBoi, Weight: 1},
	{Option: OptionHeChonk, Weight: 2},
	{Option: OptionHeckinChonker, Weight: 3},
	{Option: OptionHeftyChonk, Weight: 5},
	{Option: OptionMegaChonker, Weight: 8},
	{Option: OptionOhLawdHeComin, Weight: 13},
}

func (o Option) Weight() (int, bool) {
	for _, info := range Options {
		if info.Option == o {
			return info.Weight, true
		}
	}
	return 0, false
}

func (o Option) Valid() bool {
	_, ok := o.Weight()
	return ok
}
