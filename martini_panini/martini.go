// Package martini_panini is a martini-adapter for panini that provides the
// martini request parameters to the application as Scope.PathParams.
package martini_panini

import (
	"net/http"

	"github.com/augustoroman/panini"
	"github.com/go-martini/martini"
)

// H adapts app into a martini handler:
//
//	m := martini.Classic()
//	m.Get("/say/:greeting/:name", martini_panini.H(app.Handler(panini.Endpoint(greet))))
func H(app panini.Application) func(http.ResponseWriter, *http.Request, martini.Params) {
	return func(w http.ResponseWriter, r *http.Request, p martini.Params) {
		if err := panini.ServeHTTP(w, r, app, p); err != nil {
			panic(err)
		}
	}
}
