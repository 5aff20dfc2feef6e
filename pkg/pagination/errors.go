package pagination

import "errors"

// ErrQuotaExhausted is reported when no credential has quota left.
var ErrQuotaExhausted = errors.New("all credentials exhausted")
