package panini

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// StaticFiles is a middleware serving GET and HEAD requests under prefix from
// fsys. Requests for files that do not exist fail with 404; every other
// request falls through to the next handler.
//
//	app.Use(panini.StaticFiles("/static", panini.Folders("public", "assets")))
func StaticFiles(prefix string, fsys http.FileSystem) Middleware {
	prefix = strings.TrimRight(prefix, "/") + "/"
	return RequestMiddleware(func(ctx context.Context, req *Request, next Handler) (*Response, error) {
		method := req.Method()
		if (method != "GET" && method != "HEAD") || !strings.HasPrefix(req.Path(), prefix) {
			return next.Handle(ctx, req)
		}
		return serveFile(fsys, strings.TrimPrefix(req.Path(), prefix), method == "HEAD")
	})
}

// ServeFS is a simple helper that will serve static files from an fs.FS
// filesystem. It allows serving files identified by a path parameter out of a
// subdirectory of the filesystem. This is especially useful when embedding
// static files:
//
//	//go:embed server_files
//	var all_files embed.FS
//
//	app.Get("/css/{path*}", panini.ServeFS(all_files, "static/css", "path"))
//	app.Get("/js/{path*}", panini.ServeFS(all_files, "dist/js", "path"))
//	app.Get("/i/{path*}", panini.ServeFS(all_files, "static/images", "path"))
func ServeFS(f fs.FS, fsRoot string, pathParam string) Endpoint {
	sub, err := fs.Sub(f, fsRoot)
	if err != nil {
		panic(err)
	}
	fsys := http.FS(sub)
	return func(ctx context.Context, req *Request) (any, error) {
		return serveFile(fsys, req.Param(pathParam), req.Method() == "HEAD")
	}
}

// Folders is a file system searching each directory in turn.
func Folders(dirs ...string) http.FileSystem {
	return folders(dirs)
}

type folders []string

func (f folders) Open(name string) (http.File, error) {
	for _, dir := range f {
		file, err := http.Dir(dir).Open(name)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fs.ErrNotExist
}

const fileChunkSize = 64 * 1024

func serveFile(fsys http.FileSystem, name string, headOnly bool) (*Response, error) {
	name = path.Clean("/" + name)
	file, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil, &ResponseError{Code: http.StatusNotFound, LogMsg: name}
	} else if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	file.Close()
	if err != nil || info.IsDir() {
		return nil, &ResponseError{Code: http.StatusNotFound, LogMsg: name}
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var resp *Response
	if headOnly {
		resp = NewResponse(nil, contentType)
	} else {
		// The file is opened again once the response is actually sent, so a
		// response that is dropped holds no file handle.
		resp = NewStream(func(ctx context.Context, write func([]byte) error) error {
			file, err := fsys.Open(name)
			if err != nil {
				return err
			}
			defer file.Close()
			buf := make([]byte, fileChunkSize)
			for {
				n, err := file.Read(buf)
				if n > 0 {
					if werr := write(append([]byte(nil), buf[:n]...)); werr != nil {
						return werr
					}
				}
				if err == io.EOF {
					return nil
				} else if err != nil {
					return err
				}
			}
		}, contentType)
	}
	resp.Header.Set("content-length", strconv.FormatInt(info.Size(), 10))
	resp.Header.Set("last-modified", info.ModTime().UTC().Format(http.TimeFormat))
	return resp, nil
}
