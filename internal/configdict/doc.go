// Package configdict implements a nested, ordered configuration record for
// experiment definitions. Records hold scalars, tuples, nested records and
// one-way references to other fields. Locking a record rejects new keys so a
// mistyped override fails loudly instead of silently adding a field nobody
// reads. Existing keys stay assignable, but only with a value of the same
// kind.
package configdict
