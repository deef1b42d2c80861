package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/geoboard/internal/catalog"
)

const (
	// NoConjunction marks a message without a second clause.
	NoConjunction = 0xFF

	// InvalidMessageText is rendered for values that do not validate.
	InvalidMessageText = "Invalid message value"

	placeholder = "***"

	template1Shift   = 0
	filler1Shift     = 8
	conjunctionShift = 20
	template2Shift   = 28
	filler2Shift     = 36

	byteMask   = 0xFF
	fillerMask = 0xFFF

	reservedMask Value = ^Value(0xFFFF_FFFF_FFFF)
)

// Field names reported by InvalidFieldError.
const (
	FieldTemplate1   = "template1"
	FieldFiller1     = "filler1"
	FieldConjunction = "conjunction"
	FieldTemplate2   = "template2"
	FieldFiller2     = "filler2"
	FieldReserved    = "reserved"
)

// ErrInvalidField is matched by every InvalidFieldError.
var ErrInvalidField = errors.New("codec: invalid field")

// InvalidFieldError names the message field that failed validation.
type InvalidFieldError struct {
	Field  string
	Index  int
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("codec: invalid %s %d: %s", e.Field, e.Index, e.Reason)
}

// Is matches ErrInvalidField.
func (e *InvalidFieldError) Is(target error) bool {
	return target == ErrInvalidField
}

// Value is a packed 64-bit message.
type Value uint64

// Parts holds the catalog indices composing a message.
type Parts struct {
	Template1   int
	Filler1     int
	Conjunction int
	Template2   int
	Filler2     int
}

// HasSecondClause reports whether the conjunction is set.
func (p Parts) HasSecondClause() bool {
	return p.Conjunction != NoConjunction
}

// Messenger encodes, validates and renders packed messages.
type Messenger interface {
	Encode(parts Parts) (Value, error)
	Validate(value Value) bool
	Render(value Value) string
}

// Codec packs messages against a catalog.
type Codec struct {
	catalog *catalog.Catalog
}

// New returns a codec backed by the provided catalog.
func New(parts *catalog.Catalog) (*Codec, error) {
	if parts == nil {
		return nil, errors.New("codec: catalog is required")
	}
	return &Codec{catalog: parts}, nil
}

// Catalog exposes the backing catalog.
func (c *Codec) Catalog() *catalog.Catalog {
	return c.catalog
}

// Encode validates every field and packs them into a Value.
func (c *Codec) Encode(parts Parts) (Value, error) {
	if err := c.checkParts(parts); err != nil {
		return 0, err
	}
	return pack(parts), nil
}

// Decode unpacks a value, failing when any field is out of range.
func (c *Codec) Decode(value Value) (Parts, error) {
	if value&reservedMask != 0 {
		return Parts{}, &InvalidFieldError{Field: FieldReserved, Index: int(value >> 48), Reason: "reserved bits must be zero"}
	}
	parts := unpack(value)
	if err := c.checkParts(parts); err != nil {
		return Parts{}, err
	}
	return parts, nil
}

// Validate reports whether value decodes to in-range catalog indices.
func (c *Codec) Validate(value Value) bool {
	if value&reservedMask != 0 {
		return false
	}
	conjunction := int(value >> conjunctionShift & byteMask)
	return c.templateInRange(int(value >> template1Shift & byteMask)) &&
		c.catalog.FillerExists(int(value>>filler1Shift&fillerMask)) &&
		(conjunction == NoConjunction || conjunction < c.catalog.ConjunctionCount()) &&
		c.templateInRange(int(value>>template2Shift&byteMask)) &&
		c.catalog.FillerExists(int(value>>filler2Shift&fillerMask))
}

// Render returns the display text, or InvalidMessageText when value does not validate.
func (c *Codec) Render(value Value) string {
	if !c.Validate(value) {
		return InvalidMessageText
	}
	parts := unpack(value)
	text := c.clause(parts.Template1, parts.Filler1)
	if !parts.HasSecondClause() {
		return text
	}
	conjunction, _ := c.catalog.Conjunction(parts.Conjunction)
	return text + " " + conjunction.Text + " " + c.clause(parts.Template2, parts.Filler2)
}

func (c *Codec) clause(templateIndex, fillerIndex int) string {
	template, _ := c.catalog.Template(templateIndex)
	filler, _ := c.catalog.Filler(fillerIndex)
	return strings.ReplaceAll(template.Text, placeholder, filler.Text)
}

func (c *Codec) templateInRange(index int) bool {
	return index >= 0 && index < c.catalog.TemplateCount()
}

func (c *Codec) checkParts(parts Parts) error {
	if !c.templateInRange(parts.Template1) {
		return &InvalidFieldError{Field: FieldTemplate1, Index: parts.Template1, Reason: "template index out of range"}
	}
	if !c.catalog.FillerExists(parts.Filler1) {
		return &InvalidFieldError{Field: FieldFiller1, Index: parts.Filler1, Reason: "filler index not registered"}
	}
	if parts.Conjunction != NoConjunction && (parts.Conjunction < 0 || parts.Conjunction >= c.catalog.ConjunctionCount()) {
		return &InvalidFieldError{Field: FieldConjunction, Index: parts.Conjunction, Reason: "conjunction index out of range"}
	}
	if !c.templateInRange(parts.Template2) {
		return &InvalidFieldError{Field: FieldTemplate2, Index: parts.Template2, Reason: "template index out of range"}
	}
	if !c.catalog.FillerExists(parts.Filler2) {
		return &InvalidFieldError{Field: FieldFiller2, Index: parts.Filler2, Reason: "filler index not registered"}
	}
	return nil
}

func pack(parts Parts) Value {
	return Value(parts.Template1)<<template1Shift |
		Value(parts.Filler1)<<filler1Shift |
		Value(parts.Conjunction)<<conjunctionShift |
		Value(parts.Template2)<<template2Shift |
		Value(parts.Filler2)<<filler2Shift
}

func unpack(value Value) Parts {
	return Parts{
		Template1:   int(value >> template1Shift & byteMask),
		Filler1:     int(value >> filler1Shift & fillerMask),
		Conjunction: int(value >> conjunctionShift & byteMask),
		Template2:   int(value >> template2Shift & byteMask),
		Filler2:     int(value >> filler2Shift & fillerMask),
	}
}
