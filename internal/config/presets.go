package config

import (
	"slices"

	"github.com/edp1096/spicecore/pkg/analysis"
)

// Presets are named solver tunings applied on top of the defaults.
var Presets = map[string]func(*analysis.Options){
	"default": func(*analysis.Options) {},
	"accurate": func(o *analysis.Options) {
		o.Reltol = 1e-6
		o.Vntol = 1e-9
		o.Abstol = 1e-15
		o.Trtol = 1
	},
	"fast": func(o *analysis.Options) {
		o.Reltol = 1e-2
		o.Trtol = 10
		o.Method = "be"
	},
	"robust": func(o *analysis.Options) {
		o.Itl1 = 500
		o.Itl2 = 200
		o.Itl4 = 40
		o.GminSteps = 1000
		o.SrcSteps = 1000
	},
}

func GetPreset(name string) (analysis.Options, bool) {
	apply, ok := Presets[name]
	if !ok {
		return analysis.Options{}, false
	}
	opts := analysis.DefaultOptions()
	apply(&opts)
	return opts, true
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
