package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/camden-git/visionledger/media"
)

// AssetServer creates a handler serving stored artifacts of one directory.
// The request path after routePrefix is the artifact name within subDir.
// example Usage in main.go:
//
//	r.Get("/uploads/*", AssetServer(store, "/api/uploads/", "uploads"))
//	r.Get("/generated/*", AssetServer(store, "/api/generated/", "generated_images"))
func AssetServer(store media.Store, routePrefix, subDir string) http.HandlerFunc {
	log.Printf("Serving assets for '%s*' from store directory: %s", routePrefix, subDir)

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := strings.TrimPrefix(r.URL.Path, routePrefix)

		if relativePath == "" || strings.Contains(relativePath, "..") || strings.Contains(relativePath, "/") {
			http.Error(w, "Invalid asset path", http.StatusBadRequest)
			return
		}

		data, err := store.Read(r.Context(), media.Reference{Path: path.Join(subDir, relativePath)})
		if err != nil {
			if errors.Is(err, media.ErrArtifactNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			log.Printf("Error reading asset %s/%s: %v", subDir, relativePath, err)
			return
		}

		// artifacts are never overwritten, so they can be cached
		cacheDuration := 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
		w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

		serveBytes(w, r, relativePath, time.Time{}, data)
	}
}
