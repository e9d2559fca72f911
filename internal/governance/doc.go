// Package governance implements the request throttle that gates access to
// the execution pipeline: a fixed-window counter keyed by client address,
// with a pluggable store (in-process map or Redis) and an independent
// periodic sweep. The limiter fails open: its own bookkeeping errors never
// block a request.
package governance
