package configdict

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ConfigDict is an ordered tree of configuration fields addressed by dotted
// paths such as "experiment_kwargs.config.optimizer.base_lr".
//
// A ConfigDict is not safe for concurrent mutation. Callers that share one
// across goroutines must guard it, or hand out copies from Clone.
type ConfigDict struct {
	keys   []string
	fields map[string]any
	locked bool
}

// Item is a single key/value pair used to build a record in order.
type Item struct {
	Key   string
	Value any
}

// Field builds an Item.
func Field(key string, value any) Item {
	return Item{Key: key, Value: value}
}

func newDict() *ConfigDict {
	return &ConfigDict{fields: make(map[string]any)}
}

// New builds an unlocked record from the provided items, keeping their order.
func New(items ...Item) (*ConfigDict, error) {
	c := newDict()
	for _, item := range items {
		if err := c.setLocal(item.Key, item.Value); err != nil {
			return nil, fmt.Errorf("field %q: %w", item.Key, err)
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. It is meant for records built
// from literals, where an error is a programming mistake.
func MustNew(items ...Item) *ConfigDict {
	c, err := New(items...)
	if err != nil {
		panic(fmt.Sprintf("configdict: %v", err))
	}
	return c
}

// Keys returns the top-level keys in insertion order.
func (c *ConfigDict) Keys() []string {
	return slices.Clone(c.keys)
}

// Len returns the number of top-level keys.
func (c *ConfigDict) Len() int {
	return len(c.keys)
}

// Has reports whether path names an existing field.
func (c *ConfigDict) Has(path string) bool {
	parent, key, err := c.parentOf(path)
	if err != nil {
		return false
	}
	_, ok := parent.fields[key]
	return ok
}

// Get returns the value at path. References are evaluated against the
// current value of their source, and tuples are returned as copies. Nested
// records are returned as live values and honour the lock.
func (c *ConfigDict) Get(path string) (any, error) {
	return c.get(path, 0)
}

func (c *ConfigDict) get(path string, depth int) (any, error) {
	parent, key, err := c.parentOf(path)
	if err != nil {
		return nil, err
	}
	v, ok := parent.fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, path)
	}
	return resolve(v, depth)
}

func resolve(v any, depth int) (any, error) {
	switch x := v.(type) {
	case *Ref:
		return x.value(depth + 1)
	case Tuple:
		return x.clone(), nil
	default:
		return v, nil
	}
}

// Set assigns value to path. The parent records along the path must exist.
// Adding a key to a locked record fails with ErrLocked. Replacing a field
// with a value of a different kind fails with ErrTypeMismatch. A null field
// accepts any kind, and an int is accepted for a float field. Assigning a
// record to a record field of a locked parent merges it field by field.
// Records are copied on insert. An assignment that would let a record reach
// itself through references fails with ErrReferenceCycle and is rolled back.
func (c *ConfigDict) Set(path string, value any) error {
	parent, key, err := c.parentOf(path)
	if err != nil {
		return err
	}
	if err := parent.setLocal(key, value); err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}
	return nil
}

func (c *ConfigDict) setLocal(key string, value any) error {
	if key == "" || strings.Contains(key, ".") {
		return fmt.Errorf("%w: key %q", ErrInvalidPath, key)
	}
	next, err := normalize(value)
	if err != nil {
		return err
	}

	current, exists := c.fields[key]
	if !exists && c.locked {
		return fmt.Errorf("%w: %q", ErrLocked, key)
	}
	if exists {
		if next, err = checkAssignable(current, next); err != nil {
			return err
		}
		if next, err = c.mergeLocked(current, next); err != nil {
			return err
		}
	}
	if child, ok := next.(*ConfigDict); ok && c.locked {
		child.Lock()
	}

	c.fields[key] = next
	if !exists {
		c.keys = append(c.keys, key)
	}
	if err := checkAcyclic(next); err != nil {
		if exists {
			c.fields[key] = current
		} else {
			delete(c.fields, key)
			c.keys = c.keys[:len(c.keys)-1]
		}
		return err
	}
	return nil
}

// mergeLocked assigns a record onto an existing record of a locked parent
// field by field, so the assignment cannot introduce keys. Fields absent
// from next keep their values. Any other assignment is returned unchanged.
func (c *ConfigDict) mergeLocked(current, next any) (any, error) {
	dst, ok := current.(*ConfigDict)
	if !ok || !c.locked {
		return next, nil
	}
	src, ok := next.(*ConfigDict)
	if !ok {
		return next, nil
	}

	merged := dst.Clone().Lock()
	for _, k := range src.keys {
		if err := merged.setLocal(k, src.fields[k]); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return merged, nil
}

// checkAcyclic walks v, following references, and fails with
// ErrReferenceCycle when a record is reached again from inside itself.
func checkAcyclic(v any) error {
	return walkAcyclic(v, make(map[*ConfigDict]bool), 0)
}

func walkAcyclic(v any, stack map[*ConfigDict]bool, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrReferenceCycle, maxDepth)
	}
	if ref, ok := v.(*Ref); ok {
		resolved, err := ref.Value()
		if errors.Is(err, ErrReferenceCycle) {
			return err
		}
		if err != nil {
			return nil
		}
		v = resolved
	}
	d, ok := v.(*ConfigDict)
	if !ok {
		return nil
	}
	if stack[d] {
		return fmt.Errorf("%w: record contains a reference to itself", ErrReferenceCycle)
	}
	stack[d] = true
	defer delete(stack, d)
	for _, k := range d.keys {
		if err := walkAcyclic(d.fields[k], stack, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkAssignable returns next, possibly widened to the kind of current, or
// an error when the kinds are incompatible. Fields whose reference cannot be
// resolved are treated as untyped.
func checkAssignable(current, next any) (any, error) {
	currentKind, ok := resolvedKind(current)
	if !ok || currentKind == kindNull {
		return next, nil
	}
	nextKind, ok := resolvedKind(next)
	if !ok || nextKind == kindNull {
		return next, nil
	}
	if currentKind == kindFloat && nextKind == kindInt {
		if _, isRef := next.(*Ref); !isRef {
			return float64(next.(int)), nil
		}
		return next, nil
	}
	if currentKind != nextKind {
		return nil, fmt.Errorf("%w: cannot assign %s to %s field", ErrTypeMismatch, nextKind, currentKind)
	}
	return next, nil
}

func resolvedKind(v any) (kind, bool) {
	if ref, ok := v.(*Ref); ok {
		resolved, err := ref.Value()
		if err != nil {
			return kindNull, false
		}
		return kindOf(resolved), true
	}
	return kindOf(v), true
}

// Lock recursively marks the record and every nested record as locked.
func (c *ConfigDict) Lock() *ConfigDict {
	c.locked = true
	for _, k := range c.keys {
		if child, ok := c.fields[k].(*ConfigDict); ok {
			child.Lock()
		}
	}
	return c
}

// Unlock recursively lifts the lock.
func (c *ConfigDict) Unlock() *ConfigDict {
	c.locked = false
	for _, k := range c.keys {
		if child, ok := c.fields[k].(*ConfigDict); ok {
			child.Unlock()
		}
	}
	return c
}

// IsLocked reports whether the record rejects new keys.
func (c *ConfigDict) IsLocked() bool {
	return c.locked
}

// OnewayRef returns a reference that tracks the field at path. Placing the
// reference in another field makes that field mirror the source on every
// read. Writing the mirroring field replaces the reference and never touches
// the source.
func (c *ConfigDict) OnewayRef(path string) (*Ref, error) {
	if !c.Has(path) {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, path)
	}
	return &Ref{root: c, path: path}, nil
}

// MustOnewayRef is like OnewayRef but panics when the field does not exist.
func (c *ConfigDict) MustOnewayRef(path string) *Ref {
	ref, err := c.OnewayRef(path)
	if err != nil {
		panic(fmt.Sprintf("configdict: %v", err))
	}
	return ref
}

// IsRef reports whether the field at path currently holds a live reference.
func (c *ConfigDict) IsRef(path string) bool {
	parent, key, err := c.parentOf(path)
	if err != nil {
		return false
	}
	_, ok := parent.fields[key].(*Ref)
	return ok
}

// Clone returns a deep copy. References pointing into the copied tree are
// rebound to the copy, so the two trees never observe each other's writes.
func (c *ConfigDict) Clone() *ConfigDict {
	copies := make(map[*ConfigDict]*ConfigDict)
	out := c.cloneInto(copies)
	out.rebind(copies)
	return out
}

func (c *ConfigDict) cloneInto(copies map[*ConfigDict]*ConfigDict) *ConfigDict {
	out := &ConfigDict{
		keys:   slices.Clone(c.keys),
		fields: make(map[string]any, len(c.fields)),
		locked: c.locked,
	}
	copies[c] = out
	for _, k := range c.keys {
		switch x := c.fields[k].(type) {
		case *ConfigDict:
			out.fields[k] = x.cloneInto(copies)
		case Tuple:
			out.fields[k] = x.clone()
		case *Ref:
			out.fields[k] = &Ref{root: x.root, path: x.path}
		default:
			out.fields[k] = x
		}
	}
	return out
}

func (c *ConfigDict) rebind(copies map[*ConfigDict]*ConfigDict) {
	for _, k := range c.keys {
		switch x := c.fields[k].(type) {
		case *ConfigDict:
			x.rebind(copies)
		case *Ref:
			if root, ok := copies[x.root]; ok {
				x.root = root
			}
		}
	}
}

// Resolve returns a deep copy with every reference replaced by the current
// value of its source. The copy keeps the lock state of the original.
func (c *ConfigDict) Resolve() (*ConfigDict, error) {
	return c.resolveTree(0)
}

func (c *ConfigDict) resolveTree(depth int) (*ConfigDict, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrReferenceCycle, maxDepth)
	}
	out := &ConfigDict{
		keys:   slices.Clone(c.keys),
		fields: make(map[string]any, len(c.fields)),
		locked: c.locked,
	}
	for _, k := range c.keys {
		v, err := resolve(c.fields[k], 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if child, ok := v.(*ConfigDict); ok {
			v, err = child.resolveTree(depth + 1)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", k, err)
			}
		}
		out.fields[k] = v
	}
	return out, nil
}

// ToMap returns the resolved tree as plain maps. Tuples become []any.
func (c *ConfigDict) ToMap() (map[string]any, error) {
	return c.toMap(0)
}

func (c *ConfigDict) toMap(depth int) (map[string]any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrReferenceCycle, maxDepth)
	}
	out := make(map[string]any, len(c.keys))
	for _, k := range c.keys {
		v, err := resolve(c.fields[k], 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		switch x := v.(type) {
		case *ConfigDict:
			m, err := x.toMap(depth + 1)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", k, err)
			}
			out[k] = m
		case Tuple:
			out[k] = []any(x)
		default:
			out[k] = x
		}
	}
	return out, nil
}

// Equal reports whether both records resolve to the same keys, order and
// values.
func (c *ConfigDict) Equal(other *ConfigDict) bool {
	return c.equal(other, 0)
}

func (c *ConfigDict) equal(other *ConfigDict, depth int) bool {
	if c == nil || other == nil {
		return c == other
	}
	if depth > maxDepth {
		return false
	}
	if !slices.Equal(c.keys, other.keys) {
		return false
	}
	for _, k := range c.keys {
		a, errA := resolve(c.fields[k], 0)
		b, errB := resolve(other.fields[k], 0)
		if errA != nil || errB != nil {
			return false
		}
		if !valuesEqual(a, b, depth) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any, depth int) bool {
	switch x := a.(type) {
	case *ConfigDict:
		y, ok := b.(*ConfigDict)
		return ok && x.equal(y, depth+1)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && slices.Equal(x, y)
	default:
		return a == b
	}
}

// Int returns the int at path.
func (c *ConfigDict) Int(path string) (int, error) {
	return typed[int](c, path, kindInt)
}

// Float returns the float at path. Int fields are widened.
func (c *ConfigDict) Float(path string) (float64, error) {
	v, err := c.Get(path)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: %q is %s, not float", ErrTypeMismatch, path, kindOf(v))
}

// String returns the string at path.
func (c *ConfigDict) String(path string) (string, error) {
	return typed[string](c, path, kindString)
}

// Bool returns the bool at path.
func (c *ConfigDict) Bool(path string) (bool, error) {
	return typed[bool](c, path, kindBool)
}

// Dict returns the nested record at path.
func (c *ConfigDict) Dict(path string) (*ConfigDict, error) {
	return typed[*ConfigDict](c, path, kindDict)
}

// Strings returns the tuple of strings at path.
func (c *ConfigDict) Strings(path string) ([]string, error) {
	t, err := typed[Tuple](c, path, kindTuple)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t))
	for i, v := range t {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q element %d is %s, not string", ErrTypeMismatch, path, i, kindOf(v))
		}
		out[i] = s
	}
	return out, nil
}

func typed[T any](c *ConfigDict, path string, want kind) (T, error) {
	var zero T
	v, err := c.Get(path)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %s, not %s", ErrTypeMismatch, path, kindOf(v), want)
	}
	return out, nil
}

// parentOf walks every element but the last and returns the owning record
// together with the final key.
func (c *ConfigDict) parentOf(path string) (*ConfigDict, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}

	cur := c
	for i, p := range parts[:len(parts)-1] {
		v, ok := cur.fields[p]
		if !ok {
			return nil, "", fmt.Errorf("%w: %q", ErrKeyNotFound, strings.Join(parts[:i+1], "."))
		}
		child, ok := v.(*ConfigDict)
		if !ok {
			return nil, "", fmt.Errorf("%w: %q", ErrNotDict, strings.Join(parts[:i+1], "."))
		}
		cur = child
	}
	return cur, parts[len(parts)-1], nil
}
