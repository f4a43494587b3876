package exemplar

import "errors"

// ErrStoreUnavailable signals that no exemplar store is installed or the
// backing index cannot be reached. Callers treat this as a fail-safe
// condition and escalate to human handoff rather than guessing.
var ErrStoreUnavailable = errors.New("exemplar store unavailable")
