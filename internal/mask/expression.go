// Package mask compiles and evaluates boolean flag expressions such as
// "NOT l1_flags.INVALID AND (l1_flags.LAND OR l1_flags.COASTLINE)".
//
// Expressions reference named bit masks within named flag datasets using
// dataset.FLAG notation and combine them with AND/OR/NOT (any case),
// &, |, !, && and ||, and parentheses. They are normalised to expr-lang
// syntax and compiled against a Schema with a boolean result type.
package mask

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/maskwriter/runtime/internal/errhandling"
)

// Mask values written for a pixel.
const (
	True  = 255
	False = 0
)

// Flag is a named bit mask within a flag dataset.
type Flag struct {
	Name string
	Mask uint32
}

// IsSet reports whether all bits of the flag are set in sample.
// A zero mask is never set.
func (f Flag) IsSet(sample uint32) bool {
	return f.Mask != 0 && sample&f.Mask == f.Mask
}

// Dataset is a named per-pixel flag dataset.
type Dataset struct {
	Name  string
	Flags []Flag
}

// Schema lists the flag datasets an expression may reference.
type Schema []Dataset

// Dataset returns the dataset called name.
func (s Schema) Dataset(name string) (Dataset, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// Lookup returns the flag called flag within dataset.
func (s Schema) Lookup(dataset, flag string) (Flag, bool) {
	d, ok := s.Dataset(dataset)
	if !ok {
		return Flag{}, false
	}
	for _, f := range d.Flags {
		if f.Name == flag {
			return f, true
		}
	}
	return Flag{}, false
}

// ErrReservedName is returned for dataset names that expressions cannot reference.
var ErrReservedName = errors.New("name is reserved in mask expressions")

// reservedDatasetNames are compared lowercased. Normalize lowers the logical
// keywords in any case; expr-lang reserves the others.
var reservedDatasetNames = map[string]bool{
	"and": true, "or": true, "not": true, "true": true, "false": true,
	"nil": true, "in": true, "matches": true, "contains": true,
	"startswith": true, "endswith": true, "let": true, "if": true, "else": true,
}

// ValidateDatasetName checks that name can be referenced as the dataset
// part of a dataset.FLAG reference.
func ValidateDatasetName(name string) error {
	runes := []rune(name)
	if len(runes) == 0 || !isIdentStart(runes[0]) {
		return fmt.Errorf("dataset name %q is not an identifier", name)
	}
	for _, r := range runes[1:] {
		if !isIdentPart(r) {
			return fmt.Errorf("dataset name %q is not an identifier", name)
		}
	}
	if reservedDatasetNames[strings.ToLower(name)] {
		return fmt.Errorf("dataset %q: %w", name, ErrReservedName)
	}
	return nil
}

// Binding is the set of flags of one dataset an expression reads.
type Binding struct {
	Dataset string
	Flags   []Flag
}

// Program is a compiled mask expression.
type Program struct {
	expression string
	normalized string
	program    *vm.Program
	bindings   []Binding
}

// Expression returns the source expression.
func (p *Program) Expression() string { return p.expression }

// Normalized returns the expression in expr-lang syntax.
func (p *Program) Normalized() string { return p.normalized }

// Bindings returns the referenced datasets, sorted by name.
func (p *Program) Bindings() []Binding { return p.bindings }

// Datasets returns the names of the referenced datasets, sorted.
func (p *Program) Datasets() []string {
	names := make([]string, len(p.bindings))
	for i, b := range p.bindings {
		names[i] = b.Dataset
	}
	return names
}

// Compile parses expression and checks every flag reference against schema.
// All failures are returned as expression errors.
func Compile(expression string, schema Schema) (*Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errhandling.NewExpressionError("mask expression is empty", nil)
	}
	invalid := func(err error) error {
		return errhandling.NewExpressionError(fmt.Sprintf("invalid mask expression %q", expression), err)
	}

	normalized := Normalize(expression)
	tree, err := parser.Parse(normalized)
	if err != nil {
		return nil, invalid(err)
	}

	refs := &referenceCollector{schema: schema, members: make(map[*ast.IdentifierNode]bool)}
	ast.Walk(&tree.Node, refs)
	if err := refs.err(); err != nil {
		return nil, invalid(err)
	}

	env := make(map[string]interface{}, len(schema))
	for _, d := range schema {
		flags := make(map[string]bool, len(d.Flags))
		for _, f := range d.Flags {
			flags[f.Name] = false
		}
		env[d.Name] = flags
	}
	program, err := expr.Compile(normalized, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, invalid(err)
	}

	return &Program{
		expression: expression,
		normalized: normalized,
		program:    program,
		bindings:   refs.bindings(),
	}, nil
}

var errUnsupportedReference = errors.New("unsupported reference, expected dataset.FLAG")

// referenceCollector records dataset.FLAG references while walking the AST.
type referenceCollector struct {
	schema  Schema
	members map[*ast.IdentifierNode]bool
	idents  []*ast.IdentifierNode
	used    map[string]map[string]Flag
	errs    []error
}

// Visit is called after the children of node, so identifiers are seen
// before the member expression that owns them.
func (c *referenceCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.idents = append(c.idents, n)
	case *ast.MemberNode:
		ident, ok := n.Node.(*ast.IdentifierNode)
		if !ok {
			c.errs = append(c.errs, errUnsupportedReference)
			return
		}
		c.members[ident] = true
		prop, ok := n.Property.(*ast.StringNode)
		if !ok {
			c.errs = append(c.errs, fmt.Errorf("unsupported reference in dataset %q, expected dataset.FLAG", ident.Value))
			return
		}
		c.use(ident.Value, prop.Value)
	}
}

func (c *referenceCollector) use(dataset, name string) {
	if _, ok := c.schema.Dataset(dataset); !ok {
		c.errs = append(c.errs, fmt.Errorf("unknown flag dataset %q", dataset))
		return
	}
	flag, ok := c.schema.Lookup(dataset, name)
	if !ok {
		c.errs = append(c.errs, fmt.Errorf("unknown flag %q in dataset %q", name, dataset))
		return
	}
	if c.used == nil {
		c.used = make(map[string]map[string]Flag)
	}
	if c.used[dataset] == nil {
		c.used[dataset] = make(map[string]Flag)
	}
	c.used[dataset][name] = flag
}

func (c *referenceCollector) err() error {
	for _, ident := range c.idents {
		if !c.members[ident] {
			c.errs = append(c.errs, fmt.Errorf("%q is not a flag reference, expected dataset.FLAG", ident.Value))
		}
	}
	return errors.Join(c.errs...)
}

func (c *referenceCollector) bindings() []Binding {
	out := make([]Binding, 0, len(c.used))
	for dataset, flags := range c.used {
		b := Binding{Dataset: dataset}
		for _, f := range flags {
			b.Flags = append(b.Flags, f)
		}
		sort.Slice(b.Flags, func(i, j int) bool { return b.Flags[i].Name < b.Flags[j].Name })
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out
}

// Normalize rewrites an expression into expr-lang syntax. The keywords
// AND, OR, NOT, TRUE and FALSE are lowered in any case, and single & and |
// become && and ||. Words directly after a '.' are flag names and are
// left untouched.
func Normalize(expression string) string {
	var sb strings.Builder
	sb.Grow(len(expression) + 8)

	runes := []rune(expression)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case isIdentStart(r):
			j := i + 1
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			if !afterDot(runes, i) {
				switch lw := strings.ToLower(word); lw {
				case "and", "or", "not", "true", "false":
					word = lw
				}
			}
			sb.WriteString(word)
			i = j
		case r == '&' || r == '|':
			sb.WriteRune(r)
			sb.WriteRune(r)
			if i+1 < len(runes) && runes[i+1] == r {
				i++
			}
			i++
		default:
			sb.WriteRune(r)
			i++
		}
	}
	return sb.String()
}

func afterDot(runes []rune, i int) bool {
	for k := i - 1; k >= 0; k-- {
		if unicode.IsSpace(runes[k]) {
			continue
		}
		return runes[k] == '.'
	}
	return false
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
