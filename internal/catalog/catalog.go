package catalog

import (
	"errors"
	"fmt"
)

const (
	// DefaultStep is the width of the filler index range reserved for each category.
	DefaultStep = 64

	maxTemplates    = 1 << 8
	maxConjunctions = 1<<8 - 1
	maxFillerIndex  = 1 << 12
)

// ErrInvalidCatalog indicates the supplied catalog contents cannot be indexed.
var ErrInvalidCatalog = errors.New("catalog: invalid contents")

// CategoryConfig lists the fillers of one named category in display order.
type CategoryConfig struct {
	Name    string
	Fillers []string
}

// Config describes the raw catalog contents.
type Config struct {
	Templates    []string
	Categories   []CategoryConfig
	Conjunctions []string
	Step         int
}

// Template is an incomplete sentence holding a single placeholder.
type Template struct {
	Index int
	Text  string
}

// Filler replaces a template placeholder.
type Filler struct {
	Index      int
	CategoryID int
	Text       string
}

// Conjunction joins two clauses.
type Conjunction struct {
	Index int
	Text  string
}

// Category groups fillers sharing one index slot.
type Category struct {
	ID      int
	Name    string
	Fillers []Filler
}

// Catalog is the immutable registry of message parts.
type Catalog struct {
	step         int
	templates    []Template
	fillers      map[int]Filler
	categories   []Category
	conjunctions []Conjunction
}

// New indexes the configured parts. Indices follow construction order.
func New(cfg Config) (*Catalog, error) {
	step := cfg.Step
	if step == 0 {
		step = DefaultStep
	}
	if step < 0 || step > maxFillerIndex {
		return nil, fmt.Errorf("%w: step %d out of range", ErrInvalidCatalog, step)
	}
	if len(cfg.Templates) > maxTemplates {
		return nil, fmt.Errorf("%w: %d templates exceed %d", ErrInvalidCatalog, len(cfg.Templates), maxTemplates)
	}
	if len(cfg.Conjunctions) > maxConjunctions {
		return nil, fmt.Errorf("%w: %d conjunctions exceed %d", ErrInvalidCatalog, len(cfg.Conjunctions), maxConjunctions)
	}
	if len(cfg.Categories)*step > maxFillerIndex {
		return nil, fmt.Errorf("%w: %d categories of step %d exceed filler index space", ErrInvalidCatalog, len(cfg.Categories), step)
	}

	catalog := &Catalog{
		step:         step,
		templates:    make([]Template, 0, len(cfg.Templates)),
		fillers:      make(map[int]Filler),
		categories:   make([]Category, 0, len(cfg.Categories)),
		conjunctions: make([]Conjunction, 0, len(cfg.Conjunctions)),
	}

	for index, text := range cfg.Templates {
		catalog.templates = append(catalog.templates, Template{Index: index, Text: text})
	}

	for categoryID, category := range cfg.Categories {
		if len(category.Fillers) > step {
			return nil, fmt.Errorf("%w: category %q holds %d fillers, step is %d", ErrInvalidCatalog, category.Name, len(category.Fillers), step)
		}
		base := categoryID * step
		fillers := make([]Filler, 0, len(category.Fillers))
		for offset, text := range category.Fillers {
			filler := Filler{Index: base + offset, CategoryID: categoryID, Text: text}
			catalog.fillers[filler.Index] = filler
			fillers = append(fillers, filler)
		}
		catalog.categories = append(catalog.categories, Category{ID: categoryID, Name: category.Name, Fillers: fillers})
	}

	for index, text := range cfg.Conjunctions {
		catalog.conjunctions = append(catalog.conjunctions, Conjunction{Index: index, Text: text})
	}

	return catalog, nil
}

// Step returns the filler slot width per category.
func (c *Catalog) Step() int {
	return c.step
}

// TemplateCount returns the number of templates.
func (c *Catalog) TemplateCount() int {
	return len(c.templates)
}

// ConjunctionCount returns the number of conjunctions.
func (c *Catalog) ConjunctionCount() int {
	return len(c.conjunctions)
}

// FillerExists reports whether index names a registered filler.
func (c *Catalog) FillerExists(index int) bool {
	_, ok := c.fillers[index]
	return ok
}

// FillerCategory returns the category id a filler index belongs to.
func (c *Catalog) FillerCategory(index int) int {
	return index / c.step
}

// Template returns the template at index.
func (c *Catalog) Template(index int) (Template, bool) {
	if index < 0 || index >= len(c.templates) {
		return Template{}, false
	}
	return c.templates[index], true
}

// Filler returns the filler at index.
func (c *Catalog) Filler(index int) (Filler, bool) {
	filler, ok := c.fillers[index]
	return filler, ok
}

// Conjunction returns the conjunction at index.
func (c *Catalog) Conjunction(index int) (Conjunction, bool) {
	if index < 0 || index >= len(c.conjunctions) {
		return Conjunction{}, false
	}
	return c.conjunctions[index], true
}

// Category returns the category with the given id.
func (c *Catalog) Category(id int) (Category, bool) {
	if id < 0 || id >= len(c.categories) {
		return Category{}, false
	}
	return c.categories[id], true
}

// Templates returns a copy of the templates in index order.
func (c *Catalog) Templates() []Template {
	return append([]Template(nil), c.templates...)
}

// Categories returns a copy of the categories in id order.
func (c *Catalog) Categories() []Category {
	categories := make([]Category, 0, len(c.categories))
	for _, category := range c.categories {
		category.Fillers = append([]Filler(nil), category.Fillers...)
		categories = append(categories, category)
	}
	return categories
}

// Conjunctions returns a copy of the conjunctions in index order.
func (c *Catalog) Conjunctions() []Conjunction {
	return append([]Conjunction(nil), c.conjunctions...)
}
