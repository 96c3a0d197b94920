package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/visionledger/media"
)

// RouteOptions carries what RegisterRoutes needs besides the handlers.
type RouteOptions struct {
	UploadsSubDir   string
	GeneratedSubDir string
	// Throttle wraps the routes that call a model. Nil leaves them unthrottled.
	Throttle func(http.Handler) http.Handler
	// Events serves /api/ws when set.
	Events http.HandlerFunc
}

// RegisterRoutes mounts the API under /api.
func RegisterRoutes(r chi.Router, vqa *VQAHandler, generated *GeneratedImageHandler, assets media.Store, opts RouteOptions) {
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.Throttle != nil {
				r.Use(opts.Throttle)
			}
			r.Post("/vqa", vqa.Ask)
			r.Post("/text-to-image", generated.Generate)
			r.Post("/text-to-image/batch", generated.GenerateBatch)
		})

		r.Route("/images", func(r chi.Router) {
			r.Get("/", vqa.ListImages)
			r.Get("/{imageID}/questions", vqa.ListQuestions)
		})

		r.Route("/generated-images", func(r chi.Router) {
			r.Get("/", generated.ListRecent)
			r.Get("/search", generated.Search)
			r.Get("/seed/{seed}", generated.ListBySeed)
			r.Route("/{generatedImageID}", func(r chi.Router) {
				r.Get("/", generated.Get)
				r.Delete("/", generated.Delete)
				r.Get("/download", generated.Download)
				r.Get("/thumbnail", generated.Thumbnail)
				r.Get("/tags", generated.ListTags)
				r.Post("/tags", generated.AddTag)
			})
		})

		r.Get("/generation-statistics", generated.Statistics)

		r.Get("/uploads/*", AssetServer(assets, "/api/uploads/", opts.UploadsSubDir))
		r.Get("/generated/*", AssetServer(assets, "/api/generated/", opts.GeneratedSubDir))

		if opts.Events != nil {
			r.Get("/ws", opts.Events)
		}
	})
}
