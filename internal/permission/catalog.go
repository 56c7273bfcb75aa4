package permission

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Catalog construction errors. All of them are fatal configuration errors.
var (
	ErrInvalidDocument   = errors.New("permission: invalid catalog document")
	ErrDuplicateCode     = errors.New("permission: duplicate code")
	ErrSelfRequirement   = errors.New("permission: code requires itself")
	ErrCyclicRequirement = errors.New("permission: cyclic requirement")
	ErrInconsistentIndex = errors.New("permission: by_code index disagrees with modules")
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Definition describes one permission code.
type Definition struct {
	Code     Code   `json:"code"`
	Module   string `json:"module"`
	Action   string `json:"action"`
	Label    string `json:"label"`
	Requires []Code `json:"requires"`
}

// Module groups definitions for display.
type Module struct {
	Key         string       `json:"key"`
	Label       string       `json:"label"`
	Definitions []Definition `json:"permissions"`
}

// Catalog is the immutable set of known permissions and their requires graph.
// It is built once at startup and shared by pointer.
type Catalog struct {
	modules    []Module
	byCode     map[Code]Definition
	dependents map[Code][]Code
	dangling   []Code
}

// Option customises catalog construction.
type Option func(*catalogOptions)

type catalogOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for load-time configuration warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *catalogOptions) {
		o.logger = logger
	}
}

// LoadDefaultCatalog builds the catalog shipped with the binary.
func LoadDefaultCatalog(opts ...Option) (*Catalog, error) {
	return loadCatalog(defaultCatalog, opts...)
}

// LoadCatalog reads a catalog document from disk. An empty path selects the
// embedded default.
func LoadCatalog(path string, opts ...Option) (*Catalog, error) {
	if path == "" {
		return LoadDefaultCatalog(opts...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("permission: read catalog: %w", err)
	}
	return loadCatalog(data, opts...)
}

func loadCatalog(data []byte, opts ...Option) (*Catalog, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return NewCatalog(doc, opts...)
}

// NewCatalog validates the document and builds the catalog. It refuses to
// build a catalog whose requires graph has a self-loop or a cycle.
func NewCatalog(doc Document, opts ...Option) (*Catalog, error) {
	o := catalogOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		modules:    make([]Module, 0, len(doc.Modules)),
		byCode:     make(map[Code]Definition),
		dependents: make(map[Code][]Code),
	}
	titler := cases.Title(language.English)
	for _, spec := range doc.Modules {
		mod := Module{Key: spec.Key, Label: strings.TrimSpace(spec.Label)}
		if mod.Label == "" {
			mod.Label = titler.String(strings.ReplaceAll(spec.Key, "_", " "))
		}
		for _, ds := range spec.Permissions {
			if prev, dup := c.byCode[ds.Code]; dup {
				return nil, fmt.Errorf("%w: %d declared in %q and %q", ErrDuplicateCode, ds.Code, prev.Module, spec.Key)
			}
			def := Definition{
				Code:     ds.Code,
				Module:   spec.Key,
				Action:   ds.Action,
				Label:    ds.Label,
				Requires: uniqueCodes(ds.Requires),
			}
			if slices.Contains(def.Requires, def.Code) {
				return nil, fmt.Errorf("%w: %d", ErrSelfRequirement, def.Code)
			}
			c.byCode[def.Code] = def
			mod.Definitions = append(mod.Definitions, def)
		}
		c.modules = append(c.modules, mod)
	}

	if doc.ByCode != nil {
		if err := c.checkIndex(doc.ByCode); err != nil {
			return nil, err
		}
	}

	dangling := make(Set)
	for _, mod := range c.modules {
		for _, def := range mod.Definitions {
			for _, req := range def.Requires {
				c.dependents[req] = append(c.dependents[req], def.Code)
				if _, known := c.byCode[req]; !known {
					dangling[req] = struct{}{}
				}
			}
		}
	}
	for code := range c.dependents {
		slices.Sort(c.dependents[code])
	}

	if err := c.checkAcyclic(); err != nil {
		return nil, err
	}

	if len(dangling) > 0 {
		c.dangling = dangling.Sorted()
		if o.logger != nil {
			o.logger.Warn("permission catalog references undefined codes",
				slog.Any("codes", c.dangling))
		}
	}
	return c, nil
}

func (c *Catalog) checkIndex(index map[Code]IndexEntry) error {
	if len(index) != len(c.byCode) {
		return fmt.Errorf("%w: index has %d entries, modules declare %d", ErrInconsistentIndex, len(index), len(c.byCode))
	}
	for code, entry := range index {
		def, ok := c.byCode[code]
		if !ok {
			return fmt.Errorf("%w: %d is indexed but not declared in any module", ErrInconsistentIndex, code)
		}
		if entry.Module != def.Module || entry.Action != def.Action || entry.Label != def.Label ||
			!NewSet(entry.Requires...).Equal(NewSet(def.Requires...)) {
			return fmt.Errorf("%w: %d differs from its module declaration", ErrInconsistentIndex, code)
		}
	}
	return nil
}

const (
	unvisited = iota
	visiting
	done
)

// checkAcyclic runs a depth first search with a visiting marker over every
// declared code in declaration order.
func (c *Catalog) checkAcyclic() error {
	state := make(map[Code]int, len(c.byCode))
	var stack []Code

	var visit func(Code) error
	visit = func(code Code) error {
		switch state[code] {
		case visiting:
			start := slices.Index(stack, code)
			path := append(slices.Clone(stack[start:]), code)
			parts := make([]string, len(path))
			for i, p := range path {
				parts[i] = p.String()
			}
			return fmt.Errorf("%w: %s", ErrCyclicRequirement, strings.Join(parts, " -> "))
		case done:
			return nil
		}
		state[code] = visiting
		stack = append(stack, code)
		for _, req := range c.byCode[code].Requires {
			if err := visit(req); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[code] = done
		return nil
	}

	for _, mod := range c.modules {
		for _, def := range mod.Definitions {
			if err := visit(def.Code); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup returns the definition for code. Unknown codes report false.
func (c *Catalog) Lookup(code Code) (Definition, bool) {
	def, ok := c.byCode[code]
	if !ok {
		return Definition{}, false
	}
	def.Requires = slices.Clone(def.Requires)
	return def, true
}

// Known reports whether code is declared in the catalog.
func (c *Catalog) Known(code Code) bool {
	_, ok := c.byCode[code]
	return ok
}

// Unknown returns the subset of codes that the catalog does not declare, in
// input order.
func (c *Catalog) Unknown(codes ...Code) []Code {
	var out []Code
	for _, code := range codes {
		if !c.Known(code) {
			out = append(out, code)
		}
	}
	return out
}

// RequiresOf returns the direct prerequisites of code. Unknown codes have none.
func (c *Catalog) RequiresOf(code Code) []Code {
	return slices.Clone(c.byCode[code].Requires)
}

// DependentsOf returns every code whose requires list contains code.
func (c *Catalog) DependentsOf(code Code) Set {
	return NewSet(c.dependents[code]...)
}

// Definitions returns all definitions grouped by module in declaration order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.byCode))
	for _, mod := range c.modules {
		for _, def := range mod.Definitions {
			def.Requires = slices.Clone(def.Requires)
			out = append(out, def)
		}
	}
	return out
}

// Modules returns the modules in declaration order.
func (c *Catalog) Modules() []Module {
	out := make([]Module, len(c.modules))
	for i, mod := range c.modules {
		out[i] = Module{Key: mod.Key, Label: mod.Label, Definitions: make([]Definition, len(mod.Definitions))}
		for j, def := range mod.Definitions {
			def.Requires = slices.Clone(def.Requires)
			out[i].Definitions[j] = def
		}
	}
	return out
}

// Len returns the number of declared codes.
func (c *Catalog) Len() int {
	return len(c.byCode)
}

// Dangling lists codes that appear in a requires list without being declared.
func (c *Catalog) Dangling() []Code {
	return slices.Clone(c.dangling)
}

func uniqueCodes(codes []Code) []Code {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[Code]struct{}, len(codes))
	out := make([]Code, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
