// Package middleware contains common middleware functions for HTTP handlers.
package middleware

import "net/http"

// Interceptor is a middleware interface.
type Interceptor interface {
	Intercept(handlerFunc http.Handler) http.Handler
}

// Funcs adapts interceptors to the func form routers expect, in the order
// they are passed.
func Funcs(m ...Interceptor) []func(http.Handler) http.Handler {
	funcs := make([]func(http.Handler) http.Handler, 0, len(m))
	for _, i := range m {
		funcs = append(funcs, i.Intercept)
	}
	return funcs
}
