// Package httputil holds the response helpers shared by the API handlers.
//
// Handlers write through these instead of raw http.ResponseWriter calls so
// every endpoint returns the same JSON error envelope.
package httputil
