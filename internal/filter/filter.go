package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Preset filter expressions. The preset constructors of the parser compile
// exactly these strings, so constructing with a preset and constructing with
// the equivalent explicit expression select the same relations.
const (
	PTv2 = `tags["type"] == "route" && tags["public_transport:version"] == "2" && ` +
		`tags["route"] in ["bus", "trolleybus", "minibus", "share_taxi", "coach", "train", ` +
		`"light_rail", "subway", "tram", "monorail", "ferry", "funicular", "aerialway"]`

	AssociatedStreet = `tags["type"] == "associatedStreet"`
)

// ErrEval is returned by Match when a compiled expression fails at runtime.
var ErrEval = errors.New("filter evaluation failed")

// Filter is a compiled relation selection expression. The zero value and a
// nil *Filter match every relation.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile parses a selection expression over a relation's `id` (int64) and
// `tags` (map of string to string). An empty expression matches everything.
func Compile(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return &Filter{}, nil
	}
	program, err := expr.Compile(expression, expr.Env(env(0, nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return &Filter{source: expression, program: program}, nil
}

// Match reports whether the relation with the given id and tags is selected.
// A compiled program is safe for concurrent use.
func (f *Filter) Match(id int64, tags map[string]string) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, env(id, tags))
	if err != nil {
		return false, fmt.Errorf("%w: relation %d: %v", ErrEval, id, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// String returns the source expression, empty when the filter matches all.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

func env(id int64, tags map[string]string) map[string]any {
	if tags == nil {
		tags = map[string]string{}
	}
	return map[string]any{
		"id":   id,
		"tags": tags,
	}
}

// Preset returns the expression registered under a preset name. Names are
// matched case-insensitively; underscores and dashes are ignored.
func Preset(name string) (string, bool) {
	key := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	switch key {
	case "ptv2":
		return PTv2, true
	case "associatedstreet":
		return AssociatedStreet, true
	}
	return "", false
}
