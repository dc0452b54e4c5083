package netlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/edp1096/spicecore/pkg/device"
)

var ErrSyntax = errors.New("netlist syntax error")

type AnalysisType int

const (
	AnalysisOP AnalysisType = iota
	AnalysisTRAN
	AnalysisAC
	AnalysisDC
)

func (t AnalysisType) String() string {
	switch t {
	case AnalysisTRAN:
		return "tran"
	case AnalysisAC:
		return "ac"
	case AnalysisDC:
		return "dc"
	default:
		return "op"
	}
}

type TranParam struct {
	TStep  float64 // print step
	TStop  float64 // stop time
	TStart float64 // start of recording
	TMax   float64 // max timestep, 0 derives one
	UIC    bool    // Use Initial Conditions
}

type ACParam struct {
	Sweep  string  // DEC, OCT, LIN
	Points int     // per decade/octave, or total for LIN
	FStart float64 // start frequency
	FStop  float64 // stop frequency
}

type DCParam struct {
	Source    string
	Start     float64
	Stop      float64
	Increment float64
}

type NetlistData struct {
	Title    string                       // Circuit title
	Elements []Element                    // Circuit elements
	Nodes    map[string]int               // Node name and first-appearance index
	Models   map[string]device.ModelParam // Model parameters, keyed by lower-case name

	Analyses  []AnalysisType // analysis cards in deck order
	TranParam TranParam
	ACParam   ACParam
	DCParam   DCParam

	Options map[string]float64 // .options name=value; bare flags are 1
	Temp    *float64           // .temp
}

type Element struct {
	Type   string            // Part type (R, L, C, V, etc.)
	Name   string            // Part name
	Nodes  []string          // Node names
	Value  float64           // Part value
	Params map[string]string // Parameter values
	Line   int               // deck line of the card
}

// unitMap holds the SPICE scale factors. Suffixes are case-insensitive, so
// "M" is milli and "MEG" is mega.
var unitMap = map[string]float64{
	"t":   1e12,    // tera
	"g":   1e9,     // giga
	"meg": 1e6,     // mega
	"k":   1e3,     // kilo
	"mil": 25.4e-6, // thousandth of an inch
	"m":   1e-3,    // milli
	"u":   1e-6,    // micro
	"n":   1e-9,    // nano
	"p":   1e-12,   // pico
	"f":   1e-15,   // femto
}

var (
	valueRe  = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)([a-zA-Z]*)$`)
	assignRe = regexp.MustCompile(`\s*=\s*`)
)

// ParseValue - Parse value and factor. 1k -> 1000, 10uF -> 1e-5
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %q", val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	suffix := strings.ToLower(matches[2])
	switch {
	case suffix == "":
	case strings.HasPrefix(suffix, "meg"):
		num *= unitMap["meg"]
	case strings.HasPrefix(suffix, "mil"):
		num *= unitMap["mil"]
	default:
		// trailing unit names such as V, A, s or Hz are ignored
		if multiplier, ok := unitMap[suffix[:1]]; ok {
			num *= multiplier
		}
	}
	return num, nil
}

func Parse(input string) (*NetlistData, error) {
	return ParseReader(strings.NewReader(input))
}

// ParseReader reads a SPICE deck. The first line is the title; lines
// starting with '*' are comments, ';' starts an inline comment and '+'
// continues the previous card. Parsing stops at .end.
func ParseReader(r io.Reader) (*NetlistData, error) {
	scanner := bufio.NewScanner(r)
	netlistData := &NetlistData{
		Nodes:   make(map[string]int),
		Models:  make(map[string]device.ModelParam),
		Options: make(map[string]float64),
	}

	// Title or comment
	if scanner.Scan() {
		netlistData.Title = strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "*"))
	}

	var currentLine string
	currentNo, lineNo := 0, 1
	flush := func() error {
		if currentLine == "" {
			return nil
		}
		err := parseLine(netlistData, currentLine, currentNo)
		currentLine = ""
		return err
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.Index(line, ";"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)

		if len(line) == 0 || strings.HasPrefix(line, "*") {
			continue
		}

		if strings.HasPrefix(line, "+") {
			if currentLine == "" {
				return nil, fmt.Errorf("%w: line %d: continuation without a card", ErrSyntax, lineNo)
			}
			currentLine += " " + strings.TrimSpace(line[1:])
			continue
		}

		if err := flush(); err != nil {
			return nil, err
		}
		if strings.EqualFold(line, ".end") {
			break
		}
		currentLine, currentNo = line, lineNo
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return netlistData, nil
}

func parseLine(netlistData *NetlistData, line string, lineNo int) error {
	// keep parenthesized groups and name=value pairs as separate words
	line = strings.NewReplacer("(", " ( ", ")", " ) ", ",", " ").Replace(line)
	line = assignRe.ReplaceAllString(line, "=")
	fields := strings.Fields(line)

	var err error
	if strings.HasPrefix(fields[0], ".") {
		err = parseDotOperator(netlistData, fields)
	} else {
		var elem *Element
		elem, err = parseElement(fields)
		if err == nil {
			elem.Line = lineNo
			netlistData.Elements = append(netlistData.Elements, *elem)
			for _, node := range elem.Nodes {
				if _, exists := netlistData.Nodes[node]; !exists {
					netlistData.Nodes[node] = len(netlistData.Nodes)
				}
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrSyntax, lineNo, err)
	}
	return nil
}

// AddControl parses one control card such as ".tran 1u 1m" as if it
// were appended to the deck.
func (n *NetlistData) AddControl(card string) error {
	card = strings.TrimSpace(card)
	if !strings.HasPrefix(card, ".") {
		return fmt.Errorf("%w: %q is not a control card", ErrSyntax, card)
	}
	return parseLine(n, card, 0)
}

// stripParens drops "(" and ")" words.
func stripParens(words []string) []string {
	out := words[:0:0]
	for _, w := range words {
		if w != "(" && w != ")" {
			out = append(out, w)
		}
	}
	return out
}

// Parse .op, .dc, .ac, .tran, .model, .options, .temp
func parseDotOperator(netlistData *NetlistData, fields []string) error {
	var err error
	args := stripParens(fields[1:])

	switch strings.ToLower(fields[0]) {
	case ".model":
		return parseModel(netlistData, fields[1:])

	case ".op":
		netlistData.Analyses = append(netlistData.Analyses, AnalysisOP)

	case ".tran":
		if len(args) < 2 {
			return fmt.Errorf("insufficient tran parameters, need at least tstep and tstop")
		}
		var tp TranParam
		var values []float64
		for _, a := range args {
			if strings.EqualFold(a, "uic") {
				tp.UIC = true
				continue
			}
			v, err := ParseValue(a)
			if err != nil {
				return fmt.Errorf("invalid tran parameter: %v", err)
			}
			values = append(values, v)
		}
		if len(values) < 2 || len(values) > 4 {
			return fmt.Errorf("tran takes tstep tstop [tstart [tmax]] [uic]")
		}
		tp.TStep, tp.TStop = values[0], values[1]
		if len(values) > 2 {
			tp.TStart = values[2]
		}
		if len(values) > 3 {
			tp.TMax = values[3]
		}
		netlistData.TranParam = tp
		netlistData.Analyses = append(netlistData.Analyses, AnalysisTRAN)

	case ".ac":
		if len(args) < 4 {
			return fmt.Errorf("insufficient AC parameters, need sweep type, points, fstart, and fstop")
		}
		var ap ACParam
		// DEC, OCT, LIN
		ap.Sweep = strings.ToUpper(args[0])
		if ap.Sweep != "DEC" && ap.Sweep != "OCT" && ap.Sweep != "LIN" {
			return fmt.Errorf("invalid sweep type: %s", args[0])
		}
		ap.Points, err = strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid points number: %v", err)
		}
		ap.FStart, err = ParseValue(args[2])
		if err != nil {
			return fmt.Errorf("invalid fstart: %v", err)
		}
		ap.FStop, err = ParseValue(args[3])
		if err != nil {
			return fmt.Errorf("invalid fstop: %v", err)
		}
		netlistData.ACParam = ap
		netlistData.Analyses = append(netlistData.Analyses, AnalysisAC)

	case ".dc":
		if len(args) < 4 {
			return fmt.Errorf("insufficient DC sweep parameters, need source, start, stop and increment")
		}
		if len(args) > 4 {
			return fmt.Errorf("nested DC sweeps are not supported")
		}
		dp := DCParam{Source: args[0]}
		for i, p := range []*float64{&dp.Start, &dp.Stop, &dp.Increment} {
			*p, err = ParseValue(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid dc sweep value: %v", err)
			}
		}
		netlistData.DCParam = dp
		netlistData.Analyses = append(netlistData.Analyses, AnalysisDC)

	case ".options", ".option", ".opt":
		for _, a := range args {
			name, valueStr, hasValue := strings.Cut(a, "=")
			name = strings.ToLower(name)
			if !hasValue {
				netlistData.Options[name] = 1
				continue
			}
			if name == "method" {
				netlistData.Options["method."+strings.ToLower(valueStr)] = 1
				continue
			}
			v, err := ParseValue(valueStr)
			if err != nil {
				return fmt.Errorf("invalid option %s: %v", name, err)
			}
			netlistData.Options[name] = v
		}

	case ".temp":
		if len(args) < 1 {
			return fmt.Errorf("missing temperature")
		}
		t, err := ParseValue(args[0])
		if err != nil {
			return fmt.Errorf("invalid temperature: %v", err)
		}
		netlistData.Temp = &t

	default:
		return fmt.Errorf("unsupported control card: %s", fields[0])
	}

	return nil
}

var modelDefaults = map[string]map[string]float64{
	"D":    {},
	"NPN":  {},
	"PNP":  {},
	"NMOS": {"level": 1},
	"PMOS": {"level": 1},
}

// parseModel handles ".model name type (p=v ...)" with or without
// parentheses.
func parseModel(netlistData *NetlistData, fields []string) error {
	words := stripParens(fields)
	if len(words) < 2 {
		return fmt.Errorf("insufficient model parameters")
	}

	modelName := words[0]
	modelType := strings.ToUpper(words[1])
	defaults, ok := modelDefaults[modelType]
	if !ok {
		return fmt.Errorf("unsupported model type: %s", modelType)
	}

	params := make(map[string]float64, len(defaults)+len(words))
	for k, v := range defaults {
		params[k] = v
	}
	for _, pair := range words[2:] {
		name, valueStr, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("model %s: expected name=value, got %q", modelName, pair)
		}
		value, err := ParseValue(valueStr)
		if err != nil {
			return fmt.Errorf("invalid parameter value %s: %v", pair, err)
		}
		params[strings.ToLower(name)] = value
	}

	netlistData.Models[strings.ToLower(modelName)] = device.ModelParam{
		Type:   modelType,
		Name:   modelName,
		Params: params,
	}
	return nil
}

var elementNodes = map[string]int{"R": 2, "C": 2, "L": 2, "V": 2, "I": 2, "D": 2, "Q": 3, "M": 4}

// Parse circuit element
func parseElement(fields []string) (*Element, error) {
	elem := &Element{
		Name:   fields[0],
		Type:   strings.ToUpper(fields[0][:1]),
		Params: make(map[string]string),
	}

	if elem.Type == "K" {
		args := stripParens(fields[1:])
		if len(args) != 3 {
			return nil, fmt.Errorf("mutual coupling %s needs two inductors and a coefficient", elem.Name)
		}
		coefficient, err := ParseValue(args[2])
		if err != nil {
			return nil, fmt.Errorf("invalid coupling coefficient: %v", err)
		}
		elem.Params["ind1"], elem.Params["ind2"] = args[0], args[1]
		elem.Value = coefficient
		return elem, nil
	}

	numNodes, ok := elementNodes[elem.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported element type: %s", elem.Name)
	}
	if len(fields) < numNodes+1 {
		return nil, fmt.Errorf("element %s needs %d nodes", elem.Name, numNodes)
	}
	elem.Nodes = fields[1 : numNodes+1]
	rest := fields[numNodes+1:]

	switch elem.Type {
	case "V", "I":
		return elem, parseSource(elem, rest)

	case "D", "Q", "M":
		if len(rest) < 1 {
			return nil, fmt.Errorf("element %s needs a model name", elem.Name)
		}
		elem.Params["model"] = rest[0]
		return elem, parseInstanceParams(elem, rest[1:])

	default:
		// Parts - RLC
		if len(rest) < 1 {
			return nil, fmt.Errorf("missing value for %s", elem.Name)
		}
		value, err := ParseValue(rest[0])
		if err != nil {
			return nil, err
		}
		elem.Value = value
		return elem, parseInstanceParams(elem, rest[1:])
	}
}

// parseInstanceParams reads name=value pairs such as ic=, tc1=, l= and w=.
// A bare number after a semiconductor model is its area.
func parseInstanceParams(elem *Element, words []string) error {
	for _, w := range stripParens(words) {
		name, value, ok := strings.Cut(w, "=")
		if !ok {
			if _, err := ParseValue(w); err == nil {
				elem.Params["area"] = w
				continue
			}
			if strings.EqualFold(w, "off") {
				continue
			}
			return fmt.Errorf("unexpected word %q on %s", w, elem.Name)
		}
		if _, err := ParseValue(value); err != nil {
			return fmt.Errorf("invalid %s on %s: %v", name, elem.Name, err)
		}
		elem.Params[strings.ToLower(name)] = value
	}
	return nil
}

// parseSource reads "[DC] v", "AC mag [phase]" and one of SIN(...),
// PULSE(...), PWL(...) in any order.
func parseSource(elem *Element, words []string) error {
	words = stripParens(words)
	for i := 0; i < len(words); {
		w := strings.ToUpper(words[i])
		switch w {
		case "DC":
			if i+1 >= len(words) {
				return fmt.Errorf("missing DC value")
			}
			value, err := ParseValue(words[i+1])
			if err != nil {
				return err
			}
			elem.Value = value
			i += 2

		case "AC":
			if i+1 >= len(words) {
				return fmt.Errorf("missing AC magnitude")
			}
			if _, err := ParseValue(words[i+1]); err != nil {
				return fmt.Errorf("invalid AC magnitude: %v", err)
			}
			elem.Params["acmag"] = words[i+1]
			elem.Params["acphase"] = "0"
			i += 2
			if i < len(words) {
				if _, err := ParseValue(words[i]); err == nil {
					elem.Params["acphase"] = words[i]
					i++
				}
			}

		case "SIN", "PULSE", "PWL":
			j := i + 1
			for j < len(words) && !isSourceKeyword(words[j]) {
				j++
			}
			elem.Params["type"] = strings.ToLower(w)
			elem.Params[strings.ToLower(w)] = strings.Join(words[i+1:j], " ")
			i = j

		default:
			value, err := ParseValue(words[i])
			if err != nil {
				return fmt.Errorf("unsupported source keyword: %s", words[i])
			}
			elem.Value = value
			i++
		}
	}
	return nil
}

func isSourceKeyword(w string) bool {
	switch strings.ToUpper(w) {
	case "DC", "AC", "SIN", "PULSE", "PWL":
		return true
	}
	return false
}

func parseValues(params string, min, max int, what string) ([]float64, error) {
	words := strings.Fields(params)
	if len(words) < min || len(words) > max {
		return nil, fmt.Errorf("%s takes %d to %d parameters, got %d", what, min, max, len(words))
	}
	values := make([]float64, max)
	for i, w := range words {
		v, err := ParseValue(w)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter %d: %v", what, i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

// parseSinParams reads SIN(offset amplitude freq [delay [damping [phase]]]).
func parseSinParams(params string) (*device.Waveform, error) {
	v, err := parseValues(params, 3, 6, "SIN")
	if err != nil {
		return nil, err
	}
	return device.SinWaveform(v[0], v[1], v[2], v[3], v[4], v[5]), nil
}

// parsePulseParams reads PULSE(v1 v2 [delay [rise [fall [width [period]]]]]).
func parsePulseParams(params string) (*device.Waveform, error) {
	v, err := parseValues(params, 2, 7, "PULSE")
	if err != nil {
		return nil, err
	}
	return device.PulseWaveform(v[0], v[1], v[2], v[3], v[4], v[5], v[6]), nil
}

func parsePWLParams(params string) (*device.Waveform, error) {
	pwlParams := strings.Fields(params)
	if len(pwlParams) < 2 || len(pwlParams)%2 != 0 {
		return nil, fmt.Errorf("insufficient or invalid PWL parameters, need pairs of time-value")
	}

	numPoints := len(pwlParams) / 2
	times := make([]float64, numPoints)
	values := make([]float64, numPoints)
	var err error
	for i := 0; i < numPoints; i++ {
		times[i], err = ParseValue(pwlParams[2*i])
		if err != nil {
			return nil, fmt.Errorf("invalid PWL time[%d]: %v", i, err)
		}
		values[i], err = ParseValue(pwlParams[2*i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid PWL value[%d]: %v", i, err)
		}
		if i > 0 && times[i] <= times[i-1] {
			return nil, fmt.Errorf("PWL time points must be strictly increasing")
		}
	}
	return device.PWLWaveform(times, values), nil
}
