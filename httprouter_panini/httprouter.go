// Package httprouter_panini is a httprouter-adapter for panini that provides
// the httprouter path parameters to the application as Scope.PathParams.
package httprouter_panini

import (
	"net/http"

	"github.com/augustoroman/panini"
	"github.com/julienschmidt/httprouter"
)

// H adapts app into a httprouter handle. httprouter expects a function rather
// than a particular interface, so wrap each endpoint when registering it. For
// example:
//
//	app := panini.TheUsual()
//	r := httprouter.New()
//	...
//	r.GET("/user/:id/", httprouter_panini.H(app.Handler(panini.Endpoint(getUser))))
//	...
//
//	func getUser(ctx context.Context, req *panini.Request) (any, error) {
//	    user, err := udb.Lookup(req.Param("id"))
//	    if err != nil {
//	        return nil, err // or wrap with panini.ResponseError{...}
//	    }
//	    return user, nil
//	}
func H(app panini.Application) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		params := make(map[string]string, len(p))
		for _, kv := range p {
			params[kv.Key] = kv.Value
		}
		if err := panini.ServeHTTP(w, r, app, params); err != nil {
			panic(err)
		}
	}
}
