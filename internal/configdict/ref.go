package configdict

import "fmt"

// maxRefDepth bounds reference chains. Exceeding it means the chain loops.
const maxRefDepth = 32

// maxDepth bounds record nesting for every tree walk.
const maxDepth = 64

// Ref is a one-way reference to a field of a record. It carries no value of
// its own and is evaluated against its source on every read.
type Ref struct {
	root *ConfigDict
	path string
}

// Path returns the dotted path of the source field.
func (r *Ref) Path() string {
	return r.path
}

// Value returns the current value of the source field.
func (r *Ref) Value() (any, error) {
	return r.value(1)
}

func (r *Ref) value(depth int) (any, error) {
	if depth > maxRefDepth {
		return nil, fmt.Errorf("%w: via %q", ErrReferenceCycle, r.path)
	}
	return r.root.get(r.path, depth)
}
