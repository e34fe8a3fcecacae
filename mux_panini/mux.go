// Package mux_panini is a gorilla/mux-adapter for panini that provides the
// mux route variables to the application as Scope.PathParams.
package mux_panini

import (
	"net/http"

	"github.com/augustoroman/panini"
	"github.com/gorilla/mux"
)

// H adapts app into an http.Handler that forwards the mux route variables:
//
//	r := mux.NewRouter()
//	r.Handle("/say/{greeting}/{name}", mux_panini.H(app.Handler(panini.Endpoint(greet)))).Methods("GET")
func H(app panini.Application) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := panini.ServeHTTP(w, r, app, mux.Vars(r)); err != nil {
			panic(err)
		}
	})
}
