package index

import (
	"fmt"
	"strings"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
)

// NoData is the nodata value of the computed indices
const NoData = -9999.

// Expr is a pure expression over the rescaled values of the bands of a definition
type Expr interface {
	// Eval returns false if the expression is undefined for these values (division by zero)
	Eval(values []float64) (float64, bool)
	format(names []string, top bool) string
}

type ref int

func (r ref) Eval(values []float64) (float64, bool) { return values[r], true }
func (r ref) format(names []string, top bool) string {
	return names[r]
}

type constant float64

func (c constant) Eval([]float64) (float64, bool) { return float64(c), true }
func (c constant) format([]string, bool) string {
	return fmt.Sprintf("%g", float64(c))
}

type binary struct {
	op   byte
	l, r Expr
}

func (b binary) Eval(values []float64) (float64, bool) {
	l, ok := b.l.Eval(values)
	if !ok {
		return 0, false
	}
	r, ok := b.r.Eval(values)
	if !ok {
		return 0, false
	}
	switch b.op {
	case '+':
		return l + r, true
	case '-':
		return l - r, true
	case '*':
		return l * r, true
	case '/':
		if r == 0 {
			return 0, false
		}
		return l / r, true
	}
	panic("unknown operator " + string(b.op))
}

func (b binary) format(names []string, top bool) string {
	s := fmt.Sprintf("%s %c %s", b.l.format(names, false), b.op, b.r.format(names, false))
	if top {
		return s
	}
	return "(" + s + ")"
}

// Ref returns the value of the i-th band of the definition
func Ref(i int) Expr { return ref(i) }

// Const returns a constant
func Const(c float64) Expr { return constant(c) }

func Add(l, r Expr) Expr { return binary{'+', l, r} }
func Sub(l, r Expr) Expr { return binary{'-', l, r} }
func Mul(l, r Expr) Expr { return binary{'*', l, r} }

// Div returns l/r, undefined when r is zero
func Div(l, r Expr) Expr { return binary{'/', l, r} }

// NormalizedDifference returns (a-b)/(a+b)
func NormalizedDifference(a, b Expr) Expr {
	return Div(Sub(a, b), Add(a, b))
}

// Definition of a spectral index
type Definition struct {
	Name        string
	Description string
	Bands       []band.Band
	Expr        Expr
	// Valid range of the index. Values outside are set to nodata
	Min, Max float64
}

// Formula returns a human-readable form of the expression
func (d Definition) Formula() string {
	names := make([]string, len(d.Bands))
	for i, b := range d.Bands {
		names[i] = b.String()
	}
	return d.Expr.format(names, true)
}

func (d Definition) validate() error {
	if d.Name == "" || d.Expr == nil || len(d.Bands) == 0 {
		return fmt.Errorf("incomplete definition %q", d.Name)
	}
	if d.Min >= d.Max {
		return fmt.Errorf("invalid range for %s", d.Name)
	}
	return checkRefs(d.Expr, len(d.Bands))
}

func checkRefs(e Expr, n int) error {
	switch e := e.(type) {
	case ref:
		if int(e) < 0 || int(e) >= n {
			return fmt.Errorf("band reference %d out of range", e)
		}
	case binary:
		if err := checkRefs(e.l, n); err != nil {
			return err
		}
		return checkRefs(e.r, n)
	}
	return nil
}

// Registry is an immutable set of index definitions
type Registry struct {
	defs   []Definition
	byName map[string]int
}

// NewRegistry creates a registry from the definitions, in this order
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: map[string]int{}}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("NewRegistry: %w", err)
		}
		key := strings.ToUpper(d.Name)
		if _, ok := r.byName[key]; ok {
			return nil, fmt.Errorf("NewRegistry: index %s registered twice", d.Name)
		}
		d.Bands = append([]band.Band{}, d.Bands...)
		r.byName[key] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// Get returns the definition of the index (case insensitive)
// Raise ErrUnknownIndex
func (r *Registry) Get(name string) (Definition, error) {
	i, ok := r.byName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Definition{}, common.ErrUnknownIndex{Name: name}
	}
	d := r.defs[i]
	d.Bands = append([]band.Band{}, d.Bands...)
	return d, nil
}

// List returns the names of the indices in registration order
func (r *Registry) List() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// Definitions returns all the definitions in registration order
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, len(r.defs))
	for i := range r.defs {
		defs[i], _ = r.Get(r.defs[i].Name)
	}
	return defs
}

// Resolve returns the canonical names of the indices.
// An empty list means all the registered indices.
// Raise ErrUnknownIndex
func (r *Registry) Resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		return r.List(), nil
	}
	res := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		d, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		if !seen[d.Name] {
			seen[d.Name] = true
			res = append(res, d.Name)
		}
	}
	return res, nil
}

const saviL = 0.5

// Default is the registry of the supported indices
var Default = mustRegistry(
	Definition{
		Name:        "NDVI",
		Description: "Normalized Difference Vegetation Index",
		Bands:       []band.Band{band.NIR, band.Red},
		Expr:        NormalizedDifference(Ref(0), Ref(1)),
		Min:         -1,
		Max:         1,
	},
	Definition{
		Name:        "NDWI",
		Description: "Normalized Difference Water Index",
		Bands:       []band.Band{band.Green, band.NIR},
		Expr:        NormalizedDifference(Ref(0), Ref(1)),
		Min:         -1,
		Max:         1,
	},
	Definition{
		Name:        "SAVI",
		Description: "Soil Adjusted Vegetation Index (L=0.5)",
		Bands:       []band.Band{band.NIR, band.Red},
		Expr:        Div(Mul(Const(1+saviL), Sub(Ref(0), Ref(1))), Add(Add(Ref(0), Ref(1)), Const(saviL))),
		Min:         -1,
		Max:         1,
	},
	Definition{
		Name:        "NDBI",
		Description: "Normalized Difference Built-up Index",
		Bands:       []band.Band{band.SWIR1, band.NIR},
		Expr:        NormalizedDifference(Ref(0), Ref(1)),
		Min:         -1,
		Max:         1,
	},
	Definition{
		Name:        "EVI",
		Description: "Enhanced Vegetation Index",
		Bands:       []band.Band{band.NIR, band.Red, band.Blue},
		Expr: Div(
			Mul(Const(2.5), Sub(Ref(0), Ref(1))),
			Add(Sub(Add(Ref(0), Mul(Const(6), Ref(1))), Mul(Const(7.5), Ref(2))), Const(1))),
		Min: -1,
		Max: 1,
	},
	Definition{
		Name:        "MNDWI",
		Description: "Modified Normalized Difference Water Index",
		Bands:       []band.Band{band.Green, band.SWIR1},
		Expr:        NormalizedDifference(Ref(0), Ref(1)),
		Min:         -1,
		Max:         1,
	},
	Definition{
		Name:        "NBR",
		Description: "Normalized Burn Ratio",
		Bands:       []band.Band{band.NIR, band.SWIR2},
		Expr:        NormalizedDifference(Ref(0), Ref(1)),
		Min:         -1,
		Max:         1,
	},
)

func mustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}
