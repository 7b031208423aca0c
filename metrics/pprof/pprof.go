// Package pprof exposes the runtime profiles. It lives apart from metrics so
// that only the binaries serving profiles link net/http/pprof.
package pprof

import (
	"net/http"
	"net/http/pprof"
)

const prefix = "/debug/pprof/"

// WithProfile returns a handler for the profiles below /debug/pprof/. Named
// profiles such as heap or goroutine are served by the index.
func WithProfile() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(prefix, pprof.Index)
	for name, h := range map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	} {
		mux.HandleFunc(prefix+name, h)
	}
	return mux
}
