// Package httputil provides the JSON response and request helpers shared
// by the CDP API handlers and webhook receivers, so every endpoint emits
// the same error envelope.
package httputil
