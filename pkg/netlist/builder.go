package netlist

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

// BuildCircuit creates every element and returns the built circuit.
func BuildCircuit(data *NetlistData) (*circuit.Circuit, error) {
	ckt := circuit.New(data.Title)
	maps.Copy(ckt.Models, data.Models)

	for _, elem := range data.Elements {
		dev, err := CreateDevice(elem, data.Models)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", elem.Line, err)
		}
		if err := ckt.Add(dev); err != nil {
			return nil, fmt.Errorf("line %d: %w", elem.Line, err)
		}
	}
	if err := ckt.Build(); err != nil {
		return nil, err
	}
	return ckt, nil
}

func CreateDevice(elem Element, models map[string]device.ModelParam) (device.Device, error) {
	switch elem.Type {
	case "R":
		r := device.NewResistor(elem.Name, elem.Nodes, elem.Value)
		if err := applyParams(elem, map[string]*float64{"tc1": &r.Tc1, "tc2": &r.Tc2}); err != nil {
			return nil, err
		}
		return r, nil

	case "C":
		c := device.NewCapacitor(elem.Name, elem.Nodes, elem.Value)
		if ic, ok, err := elemParam(elem, "ic"); err != nil {
			return nil, err
		} else if ok {
			c.SetIC(ic)
		}
		return c, nil

	case "L":
		l := device.NewInductor(elem.Name, elem.Nodes, elem.Value)
		if ic, ok, err := elemParam(elem, "ic"); err != nil {
			return nil, err
		} else if ok {
			l.SetIC(ic)
		}
		return l, nil

	case "K":
		return device.NewMutual(elem.Name, []string{elem.Params["ind1"], elem.Params["ind2"]}, elem.Value), nil

	case "V", "I":
		return createSource(elem)

	case "D":
		model, err := lookupModel(elem, models, "D")
		if err != nil {
			return nil, err
		}
		d := device.NewDiode(elem.Name, elem.Nodes)
		d.SetModelParameters(model.Params)
		if area, ok, err := elemParam(elem, "area"); err != nil {
			return nil, err
		} else if ok {
			d.Area = area
		}
		return d, nil

	case "Q":
		model, err := lookupModel(elem, models, "NPN", "PNP")
		if err != nil {
			return nil, err
		}
		q := device.NewBJT(elem.Name, elem.Nodes)
		q.PNP = model.Type == "PNP"
		q.SetModelParameters(model.Params)
		return q, nil

	case "M":
		model, err := lookupModel(elem, models, "NMOS", "PMOS")
		if err != nil {
			return nil, err
		}
		m := device.NewMosfet(elem.Name, elem.Nodes)
		m.PMOS = model.Type == "PMOS"

		// instance L and W override the model
		params := maps.Clone(model.Params)
		for _, key := range []string{"l", "w"} {
			if v, ok, err := elemParam(elem, key); err != nil {
				return nil, err
			} else if ok {
				params[key] = v
			}
		}
		m.SetModelParameters(params)
		return m, nil
	}

	return nil, fmt.Errorf("unsupported device type: %s", elem.Type)
}

func createSource(elem Element) (device.Device, error) {
	var waveform *device.Waveform
	var err error
	switch elem.Params["type"] {
	case "sin":
		waveform, err = parseSinParams(elem.Params["sin"])
	case "pulse":
		waveform, err = parsePulseParams(elem.Params["pulse"])
	case "pwl":
		waveform, err = parsePWLParams(elem.Params["pwl"])
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", elem.Name, err)
	}

	var acMag, acPhase float64
	_, hasAC := elem.Params["acmag"]
	if hasAC {
		acMag, _ = ParseValue(elem.Params["acmag"])
		acPhase, _ = ParseValue(elem.Params["acphase"])
	}

	if elem.Type == "V" {
		v := device.NewVoltageSource(elem.Name, elem.Nodes, elem.Value, waveform)
		if hasAC {
			v.SetAC(acMag, acPhase)
		}
		return v, nil
	}
	i := device.NewCurrentSource(elem.Name, elem.Nodes, elem.Value, waveform)
	if hasAC {
		i.SetAC(acMag, acPhase)
	}
	return i, nil
}

func lookupModel(elem Element, models map[string]device.ModelParam, types ...string) (device.ModelParam, error) {
	name := elem.Params["model"]
	model, ok := models[strings.ToLower(name)]
	if !ok {
		return model, fmt.Errorf("%s: model %q not found", elem.Name, name)
	}
	for _, t := range types {
		if model.Type == t {
			return model, nil
		}
	}
	return model, fmt.Errorf("%s: model %q is %s, want %s", elem.Name, name, model.Type, strings.Join(types, " or "))
}

func elemParam(elem Element, key string) (float64, bool, error) {
	s, ok := elem.Params[key]
	if !ok {
		return 0, false, nil
	}
	v, err := ParseValue(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid %s: %w", elem.Name, key, err)
	}
	return v, true, nil
}

func applyParams(elem Element, fields map[string]*float64) error {
	for key, p := range fields {
		v, ok, err := elemParam(elem, key)
		if err != nil {
			return err
		}
		if ok {
			*p = v
		}
	}
	return nil
}

// Requests lists the analysis cards in deck order. A deck without any
// analysis card yields a single operating point.
func (n *NetlistData) Requests() ([]analysis.Request, error) {
	if len(n.Analyses) == 0 {
		return []analysis.Request{analysis.OPRequest{}}, nil
	}
	reqs := make([]analysis.Request, 0, len(n.Analyses))
	for _, a := range n.Analyses {
		req, err := n.Request(a)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (n *NetlistData) Request(a AnalysisType) (analysis.Request, error) {
	switch a {
	case AnalysisOP:
		return analysis.OPRequest{}, nil
	case AnalysisDC:
		p := n.DCParam
		return analysis.DCSweepRequest{Source: p.Source, Start: p.Start, Stop: p.Stop, Step: p.Increment}, nil
	case AnalysisAC:
		spacing, err := analysis.ParseSpacing(n.ACParam.Sweep)
		if err != nil {
			return nil, err
		}
		p := n.ACParam
		return analysis.ACRequest{FStart: p.FStart, FStop: p.FStop, Points: p.Points, Spacing: spacing}, nil
	case AnalysisTRAN:
		p := n.TranParam
		return analysis.TransientRequest{Step: p.TStep, Stop: p.TStop, Start: p.TStart, MaxStep: p.TMax, UseIC: p.UIC}, nil
	}
	return nil, fmt.Errorf("unknown analysis type %d", a)
}

// ApplyOptions copies .options and .temp values onto opts. Unknown option
// names are returned so the caller can warn about them.
func (n *NetlistData) ApplyOptions(opts *analysis.Options) (unknown []string) {
	floats := map[string]*float64{
		"abstol": &opts.Abstol,
		"reltol": &opts.Reltol,
		"vntol":  &opts.Vntol,
		"gmin":   &opts.Gmin,
		"trtol":  &opts.Trtol,
		"temp":   &opts.Temp,
		"hmin":   &opts.HMin,
		"hmax":   &opts.HMax,
	}
	ints := map[string]*int{
		"itl1":      &opts.Itl1,
		"itl2":      &opts.Itl2,
		"itl4":      &opts.Itl4,
		"gminsteps": &opts.GminSteps,
		"srcsteps":  &opts.SrcSteps,
	}

	for name, v := range n.Options {
		switch {
		case floats[name] != nil:
			*floats[name] = v
		case ints[name] != nil:
			*ints[name] = int(v)
		case name == "method.trap" || name == "method.trapezoidal":
			opts.Method = "trap"
		case name == "method.be" || name == "method.euler":
			opts.Method = "be"
		case name == "nogminstepping":
			opts.GminStepping = false
		case name == "nosrcstepping":
			opts.SourceStepping = false
		default:
			unknown = append(unknown, name)
		}
	}
	if n.Temp != nil {
		opts.Temp = *n.Temp
	}
	slices.Sort(unknown)
	return unknown
}
