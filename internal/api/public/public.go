// Package public serves the operator page: an embedded copy by default, or a
// directory on disk when one is configured.
package public

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed static
var embedded embed.FS

var (
	errForbidden = errors.New("forbidden")
	errNotFound  = errors.New("not found")
)

var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".ico":  "image/x-icon",
}

// Assets resolves request paths against a read-only file tree.
type Assets struct {
	files fs.FS
}

// New returns the embedded assets, or the files under dir when dir is set.
func New(dir string) (*Assets, error) {
	if dir = strings.TrimSpace(dir); dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("public dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("public dir %s is not a directory", dir)
		}
		return &Assets{files: os.DirFS(dir)}, nil
	}
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		return nil, err
	}
	return &Assets{files: sub}, nil
}

// NewFromFS wraps an arbitrary file tree.
func NewFromFS(files fs.FS) *Assets {
	return &Assets{files: files}
}

// Handle serves GET and HEAD requests for files in the tree. It is meant to be
// registered as the router's fallback handler.
func (a *Assets) Handle(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}

	name, err := assetName(c.Request.URL.Path)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	content, err := a.read(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	c.Data(http.StatusOK, contentType(name), content)
}

func (a *Assets) read(name string) ([]byte, error) {
	info, err := fs.Stat(a.files, name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errNotFound
	}
	return fs.ReadFile(a.files, name)
}

// assetName maps a URL path to a file name inside the tree. Paths with parent
// segments are rejected rather than cleaned.
func assetName(urlPath string) (string, error) {
	for _, segment := range strings.Split(strings.ReplaceAll(urlPath, "\\", "/"), "/") {
		if segment == ".." {
			return "", errForbidden
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "index.html"
	}
	if !fs.ValidPath(name) {
		return "", errForbidden
	}
	return name, nil
}

func contentType(name string) string {
	if ct, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
