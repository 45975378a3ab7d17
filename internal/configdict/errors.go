package configdict

import "errors"

var (
	// ErrKeyNotFound is returned when a path names a field that does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrLocked is returned when a new key is added to a locked record.
	ErrLocked = errors.New("config is locked, cannot add new key")
	// ErrTypeMismatch is returned when an assignment changes the kind of an existing field.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrUnsupportedType is returned for values a record cannot hold.
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrNotDict is returned when a path traverses a field that is not a nested record.
	ErrNotDict = errors.New("path traverses a non-dict field")
	// ErrReferenceCycle is returned when a chain of references loops back on itself.
	ErrReferenceCycle = errors.New("reference cycle")
	// ErrInvalidPath is returned for empty paths or keys containing separators.
	ErrInvalidPath = errors.New("invalid path")
)
