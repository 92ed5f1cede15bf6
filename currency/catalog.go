// Package currency holds the immutable catalog of exchanged substances
// and resolves names into currency or currency-class views.
package currency

import (
	"errors"
	"fmt"
)

// ErrUnknown is returned when a name is neither a currency nor a class.
var ErrUnknown = errors.New("unknown currency")

// Currency is a single tracked substance.
type Currency struct {
	Name  string
	Unit  string
	Class string
}

// Class groups currencies that can be consumed interchangeably.
type Class struct {
	Name    string
	Unit    string
	Members []string // declaration order
}

// ViewKind tags a View.
type ViewKind uint8

const (
	ViewCurrency ViewKind = iota
	ViewClass
)

func (k ViewKind) String() string {
	if k == ViewClass {
		return "currency_class"
	}
	return "currency"
}

// View is a resolved reference to either one currency or a class of them.
// Members always lists the concrete currencies covered, so a currency
// view has exactly one member.
type View struct {
	Kind    ViewKind
	Name    string
	Members []string
}

// IsClass reports whether the view spans a currency class.
func (v View) IsClass() bool { return v.Kind == ViewClass }

// Catalog maps names to currencies and classes.
type Catalog struct {
	currencies map[string]Currency
	classes    map[string]*Class
	order      []string
}

// NewCatalog builds a catalog. Classes referenced by currencies but not
// declared are created implicitly with the unit of their first member.
func NewCatalog(currencies []Currency, classes []Class) (*Catalog, error) {
	c := &Catalog{
		currencies: make(map[string]Currency, len(currencies)),
		classes:    make(map[string]*Class, len(classes)),
	}
	for _, cl := range classes {
		if cl.Name == "" {
			return nil, fmt.Errorf("currency class with empty name")
		}
		if _, dup := c.classes[cl.Name]; dup {
			return nil, fmt.Errorf("duplicate currency class %q", cl.Name)
		}
		cl := cl
		cl.Members = nil
		c.classes[cl.Name] = &cl
	}
	for _, cur := range currencies {
		if cur.Name == "" {
			return nil, fmt.Errorf("currency with empty name")
		}
		if _, dup := c.currencies[cur.Name]; dup {
			return nil, fmt.Errorf("duplicate currency %q", cur.Name)
		}
		if _, clash := c.classes[cur.Name]; clash {
			return nil, fmt.Errorf("currency %q shadows a currency class", cur.Name)
		}
		if _, err := ParseUnit(cur.Unit); err != nil {
			return nil, fmt.Errorf("currency %q: %w", cur.Name, err)
		}
		c.currencies[cur.Name] = cur
		c.order = append(c.order, cur.Name)
		if cur.Class == "" {
			continue
		}
		cl, ok := c.classes[cur.Class]
		if !ok {
			cl = &Class{Name: cur.Class, Unit: cur.Unit}
			c.classes[cur.Class] = cl
		}
		if cl.Unit == "" {
			cl.Unit = cur.Unit
		}
		cl.Members = append(cl.Members, cur.Name)
	}
	return c, nil
}

// Currency returns the named currency.
func (c *Catalog) Currency(name string) (Currency, bool) {
	cur, ok := c.currencies[name]
	return cur, ok
}

// Class returns the named class.
func (c *Catalog) Class(name string) (Class, bool) {
	cl, ok := c.classes[name]
	if !ok {
		return Class{}, false
	}
	return *cl, true
}

// Names returns all currency names in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Unit returns the unit of a currency or class.
func (c *Catalog) Unit(name string) (string, error) {
	if cur, ok := c.currencies[name]; ok {
		return cur.Unit, nil
	}
	if cl, ok := c.classes[name]; ok {
		return cl.Unit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, name)
}

// View resolves a name once into a tagged view.
func (c *Catalog) View(name string) (View, error) {
	if _, ok := c.currencies[name]; ok {
		return View{Kind: ViewCurrency, Name: name, Members: []string{name}}, nil
	}
	if cl, ok := c.classes[name]; ok {
		members := make([]string, len(cl.Members))
		copy(members, cl.Members)
		return View{Kind: ViewClass, Name: name, Members: members}, nil
	}
	return View{}, fmt.Errorf("%w: %q", ErrUnknown, name)
}
