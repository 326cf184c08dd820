package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// serveSPA serves a file from dir, falling back to index.html for paths
// that are not files so client-side routes survive a reload.
func serveSPA(c *gin.Context, dir string) {
	clean := path.Clean("/" + c.Request.URL.Path)
	file := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))

	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}

	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
		return
	}
	c.File(index)
}
