package panini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shorthand for keeping tests concise below
type M = map[string]string

func TestMuxRegisterAndMatch(t *testing.T) {
	const REGISTRATION_ERROR = "•ERR:"
	fail := func(reason string) string {
		return REGISTRATION_ERROR + reason
	}
	split := func(combined_pattern string) (pattern, errmsg string) {
		pos := strings.Index(combined_pattern, REGISTRATION_ERROR)
		if pos == -1 {
			return combined_pattern, ""
		}
		return combined_pattern[:pos], combined_pattern[pos+len(REGISTRATION_ERROR):]
	}
	patterns := []string{
		"/",
		"/a",
		"/a" + fail("repeated entry"),
		"/a/{x}/{x}" + fail("repeated param name"),
		"/a/",
		"/a/b",
		"/a/b/c",
		"/a/b/c" + fail("repeated entry"),
		"/a/b/c/d/e", // NOTE: /a/b/c/d not registered
		"/a/{x}/c",
		"/a/{x}/c" + fail("repeated entry"),
		"/a/{y}/c" + fail("ambiguous param var"),
		"/a/{y}/c2",
		"/a/{m*}",
		"/a/{m*}/",
		"/b/{a*}/x",
		"/b/{b*}/y",
		"/b/{b*}/x" + fail("ambiguous greedy pattern"),
		"/c/{x}/y",
		"/c/{x*}/y" + fail("ambiguous param (greedy or not)"),
		"/{m*}/b/c",
		"/{m*}/{x}/c",
		"/{m*}/{x*}/c" + fail("multiple greedy patterns"),
		"/{x*}/b/c" + fail("ambiguous greedy var"),
		"/x/{x*}/y/{y}/z/{z*}/blah" + fail("multiple greedy patterns"),

	}

	var m mux

	for _, combo_pattern := range patterns {
		pattern, errmsg := split(combo_pattern)
		err := m.Register(pattern, noopHandler(pattern))
		if errmsg == "" {
			require.NoError(t, err)
		} else {
			require.Error(t, err, "Pattern %#q should have failed: %s", pattern, errmsg)
		}
	}

	// priority:
	//  - static routes
	//  - explicit parameter
	//  - greedy parameter

	testCases := []struct {
		uri             string
		expectedHandler noopHandler
		expectedParams  M
	}{
		{"/", "/", M{}},
		{"/a", "/a", M{}},
		{"/a/", "/a/", M{}},
		{"/a/b", "/a/b", M{}},
		{"/a/b/c", "/a/b/c", M{}},
		{"/a/b/c/d/e", "/a/b/c/d/e", M{}},
		{"/a/b/c/d", "/a/{m*}", M{"m": "b/c/d"}},

		{"/a/foobar/c", "/a/{x}/c", M{"x": "foobar"}},
		{"/a/foobar/c2", "/a/{y}/c2", M{"y": "foobar"}},

		{"/a/foobar/blah", "/a/{m*}", M{"m": "foobar/blah"}},
		{"/a/foobar/blah/", "/a/{m*}/", M{"m": "foobar/blah"}},

		{"/b/mm/nn/", "", nil},
		{"/b/mm/nn/x", "/b/{a*}/x", M{"a": "mm/nn"}},
		{"/b/mm/nn/y", "/b/{b*}/y", M{"b": "mm/nn"}},

		{"/c/x/y", "/c/{x}/y", M{"x": "x"}},
		{"/c//y", "", nil},

		{"/b/x/y/b/c", "/{m*}/b/c", M{"m": "b/x/y"}},
		{"/b/x/y/bo/c", "/{m*}/{x}/c", M{"m": "b/x/y", "x": "bo"}},
	}

	for _, test := range testCases {
		t.Run(fmt.Sprintf("%s -> %s", test.uri, test.expectedHandler), func(t *testing.T) {
			if test.expectedHandler == "" {
				t.Logf("Testing input uri %#q --> should not match any pattern",
					test.uri)
			} else {
				t.Logf("Testing input uri %#q --> should match pattern %#q",
					test.uri, test.expectedHandler)
			}
			params := M{}
			selected := m.Match(test.uri, params)
			if test.expectedHandler == "" {
				assert.Nil(t, selected, "should not match any pattern")
				assert.Empty(t, params)
			} else {
				require.NotNil(t, selected)
				assert.Equal(t, test.expectedHandler, selected)
				assert.Equal(t, test.expectedParams, params)
			}
		})
	}
}


type noopHandler string

func (h noopHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	return Text(string(h)), nil
}

func TestRouter(t *testing.T) {
	app := testApp()

	type User string
	theUserDB := map[string]User{"1": "bob", "2": "alice"}

	loadUser := func(req *Request) (User, error) {
		if uid := req.Param("userID"); uid == "" {
			return "", NewResponseError(400, "Must specify user ID")
		} else if u := theUserDB[uid]; u == "" {
			return "", NewResponseError(404, "No such user")
		} else {
			return u, nil
		}
	}

	app.Get("/user/{userID}", func(ctx context.Context, req *Request) (any, error) {
		u, err := loadUser(req)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Hi user %#q", u), nil
	})
	app.Post("/user/", func(ctx context.Context, req *Request) (any, error) {
		form, err := req.Form(ctx)
		if err != nil {
			return nil, err
		}
		uid, name := form.Get("uid"), form.Get("name")
		if uid == "" || name == "" {
			return nil, NewResponseError(400, "missing user info")
		}
		theUserDB[uid] = User(name)
		return fmt.Sprintf("Made user %#q = %#q", uid, name), nil
	})
	app.Any("/user/{userID}/{cmd*}", func(ctx context.Context, req *Request) (any, error) {
		u, err := loadUser(req)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Doing %#q (%s) to user %#q", req.Method(), req.Param("cmd"), u), nil
	})

	rec := call(t, app, "GET", "/user/1", "")
	assert.Equal(t, http.StatusOK, rec.status(t))
	assert.Equal(t, "Hi user `bob`", rec.body())

	rec = call(t, app, "GET", "/user/2", "")
	assert.Equal(t, "Hi user `alice`", rec.body())

	rec = call(t, app, "GET", "/user/3", "")
	assert.Equal(t, http.StatusNotFound, rec.status(t))
	assert.Equal(t, "No such user", rec.body())

	rec = call(t, app, "POST", "/user/", "uid=3&name=sid",
		H("content-type", "application/x-www-form-urlencoded"))
	assert.Equal(t, http.StatusOK, rec.status(t), "Response: %s", rec.body())

	rec = call(t, app, "GET", "/user/3", "")
	assert.Equal(t, "Hi user `sid`", rec.body())

	rec = call(t, app, "EXPLODE", "/user/3/boom/now", "")
	assert.Equal(t, http.StatusOK, rec.status(t))
	assert.Equal(t, "Doing `EXPLODE` (boom/now) to user `sid`", rec.body())
}

func TestRouterPathParam(t *testing.T) {
	app := testApp()
	app.Get("/test/{param}", func(ctx context.Context, req *Request) (any, error) {
		return req.PathParams(), nil
	})
	rec := call(t, app, "GET", "/test/42", "")
	assert.Equal(t, 200, rec.status(t))
	assert.Equal(t, "application/json", rec.header("content-type"))
	assert.JSONEq(t, `{"param": "42"}`, rec.body())

	assert.Equal(t, 404, call(t, app, "GET", "/test/", "").status(t),
		"a named segment needs a non-empty path component")
}

func TestRouterEmptySegmentBeforeSuffix(t *testing.T) {
	r := &Router{}
	r.Get("/files/{dir*}/{name}/raw", func(ctx context.Context, req *Request) (any, error) {
		return req.Param("dir") + "|" + req.Param("name"), nil
	})

	resp, err := r.Handle(context.Background(), NewRequest(httpScope("GET", "/files/a/b/c/raw"), nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "a/b|c", string(resp.Body))

	_, err = r.Handle(context.Background(), NewRequest(httpScope("GET", "/files/a/b//raw"), nil, nil))
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 404, re.Code)
}

func TestRouterNotFoundAndMethodNotAllowed(t *testing.T) {
	app := testApp()
	app.Get("/only-get", func(ctx context.Context, req *Request) (any, error) { return "ok", nil })

	assert.Equal(t, 404, call(t, app, "GET", "/missing", "").status(t))
	rec := call(t, app, "POST", "/only-get", "")
	assert.Equal(t, 405, rec.status(t))
	assert.Equal(t, StatusDescription(405), rec.body())
}

func TestRouterSpecificMethodBeatsAny(t *testing.T) {
	r := &Router{}
	r.On("*", "/x", noopHandler("any"))
	r.Get("/x", func(ctx context.Context, req *Request) (any, error) { return "get", nil })

	resp, err := r.Handle(context.Background(), NewRequest(httpScope("GET", "/x"), nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "get", string(resp.Body))

	resp, err = r.Handle(context.Background(), NewRequest(httpScope("DELETE", "/x"), nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "any", string(resp.Body))
}

func TestRouterTrimLastSlash(t *testing.T) {
	hello := func(ctx context.Context, req *Request) (any, error) { return "hello", nil }

	strict := &Router{}
	strict.Get("/hello", hello)
	_, err := strict.Handle(context.Background(), NewRequest(httpScope("GET", "/hello/"), nil, nil))
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 404, re.Code)

	lenient := &Router{TrimLastSlash: true}
	lenient.Get("/hello/", hello)
	lenient.Get("/", func(ctx context.Context, req *Request) (any, error) { return "root", nil })
	for _, path := range []string{"/hello", "/hello/"} {
		resp, err := lenient.Handle(context.Background(), NewRequest(httpScope("GET", path), nil, nil))
		require.NoError(t, err, path)
		assert.Equal(t, "hello", string(resp.Body))
	}
	resp, err := lenient.Handle(context.Background(), NewRequest(httpScope("GET", "/"), nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "root", string(resp.Body))
}

func TestRouterRegistrationPanics(t *testing.T) {
	r := &Router{}
	r.On("GET", "/a/{x}", noopHandler("a"))
	assert.Panics(t, func() { r.On("GET", "/a/{x}", noopHandler("again")) })
	assert.Panics(t, func() { r.On("GET", "no-slash", noopHandler("x")) })
	assert.Panics(t, func() { r.On("GET", "/b/{}", noopHandler("x")) })

	r.Mount("/api", testApp())
	assert.Panics(t, func() { r.Mount("/api/", testApp()) })
	assert.Panics(t, func() { r.Mount("/api/v1", testApp()) })
	assert.Panics(t, func() { r.Mount("/", testApp()) })
	assert.NotPanics(t, func() { r.Mount("/apiary", testApp()) })
}

type counterView struct{ count int }

func (v *counterView) Get(ctx context.Context, req *Request) (any, error) {
	return map[string]int{"count": v.count}, nil
}

func (v *counterView) Post(ctx context.Context, req *Request) (any, error) {
	v.count++
	return Status(http.StatusCreated, map[string]int{"count": v.count}), nil
}

func TestRouterView(t *testing.T) {
	app := testApp()
	app.View("/counter", &counterView{})

	rec := call(t, app, "POST", "/counter", "")
	assert.Equal(t, http.StatusCreated, rec.status(t))
	assert.JSONEq(t, `{"count": 1}`, rec.body())

	rec = call(t, app, "GET", "/counter", "")
	assert.JSONEq(t, `{"count": 1}`, rec.body())

	assert.Equal(t, 405, call(t, app, "DELETE", "/counter", "").status(t))
	assert.Panics(t, func() { app.View("/nothing", struct{}{}) })
}

func TestRouterMount(t *testing.T) {
	api := testApp()
	api.Get("/users/{id}", func(ctx context.Context, req *Request) (any, error) {
		return map[string]string{
			"id":   req.Param("id"),
			"root": req.Scope.RootPath,
			"path": req.Path(),
		}, nil
	})
	api.Get("/", func(ctx context.Context, req *Request) (any, error) { return "api index", nil })

	app := testApp()
	app.Mount("/api/", api)
	app.Get("/api-docs", func(ctx context.Context, req *Request) (any, error) { return "docs", nil })

	rec := call(t, app, "GET", "/api/users/7", "")
	assert.Equal(t, 200, rec.status(t))
	assert.JSONEq(t, `{"id": "7", "root": "/api", "path": "/users/7"}`, rec.body())

	assert.Equal(t, "api index", call(t, app, "GET", "/api", "").body())
	assert.Equal(t, "docs", call(t, app, "GET", "/api-docs", "").body())
	assert.Equal(t, 404, call(t, app, "GET", "/api/nothing", "").status(t))
}

func TestRouterMountForeignApplication(t *testing.T) {
	var seen *Scope
	raw := ApplicationFunc(func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		seen = scope
		return Text("raw").Send(ctx, send)
	})
	app := testApp()
	app.Use(RequestMiddleware(func(ctx context.Context, req *Request, next Handler) (*Response, error) {
		resp, err := next.Handle(ctx, req)
		if resp != nil {
			resp.Header.Set("x-outer", "seen")
		}
		return resp, err
	}))
	app.Mount("/raw", raw)

	rec := call(t, app, "GET", "/raw/x/y", "")
	assert.Equal(t, "raw", rec.body())
	assert.Equal(t, "seen", rec.header("x-outer"))
	require.NotNil(t, seen)
	assert.Equal(t, "/x/y", seen.Path)
	assert.Equal(t, "/raw", seen.RootPath)

	failing := ApplicationFunc(func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		return errors.New("mounted app exploded")
	})
	app.Mount("/fail", failing)
	rec = call(t, app, "GET", "/fail", "")
	assert.Equal(t, 500, rec.status(t))
	assert.False(t, strings.Contains(rec.body(), "exploded"), "internal errors must not leak")
}
