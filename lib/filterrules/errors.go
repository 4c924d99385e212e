package filterrules

import "errors"

// ErrRecursiveInclude is returned when a merge directive chain forms a
// cycle, matching the error kind named in spec.md Section 7.
var ErrRecursiveInclude = errors.New("recursive filter rule include detected")
