package rate

import "errors"

// ErrRateLimited is returned once the failed-login budget is spent.
var ErrRateLimited = errors.New("rate limited")
