// Package web ships the support widget page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const (
	widgetEntry  = "index.html"
	assetMaxAge  = "public, max-age=3600"
	entryNoCache = "no-cache"
)

// WidgetHandler serves the widget mounted at prefix. Paths that name no
// embedded asset get the entry page so the widget can be linked from any
// sub-path of the host site.
func WidgetHandler(prefix string) http.Handler {
	assets, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: widget assets missing: " + err.Error())
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := assetName(strings.TrimPrefix(r.URL.Path, prefix))
		if info, err := fs.Stat(assets, name); err != nil || info.IsDir() {
			name = widgetEntry
		}

		if name == widgetEntry {
			w.Header().Set("Cache-Control", entryNoCache)
		} else {
			w.Header().Set("Cache-Control", assetMaxAge)
		}
		http.ServeFileFS(w, r, assets, name)
	})
}

// assetName maps a request path onto an fs.FS name.
func assetName(p string) string {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" || !fs.ValidPath(name) {
		return widgetEntry
	}
	return name
}
