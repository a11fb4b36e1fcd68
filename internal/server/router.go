package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tangde15/easyrag/internal/api"
	"github.com/tangde15/easyrag/internal/api/handlers"
	"github.com/tangde15/easyrag/internal/api/middleware"
)

type RouterConfig struct {
	ChatHandler         *handlers.ChatHandler
	ConversationHandler *handlers.ConversationHandler
	KnowledgeHandler    *handlers.KnowledgeHandler
}

// defaultBodyLimit caps request bodies on the JSON endpoints. Uploads
// get their own larger limit; body caps do not stack, so the upload
// route stays outside the default group.
const defaultBodyLimit int64 = 1 << 20

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.With(middleware.MaxBodyBytes(handlers.MaxUploadBytes)).Post("/knowledge/upload", cfg.KnowledgeHandler.Upload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodyBytes(defaultBodyLimit))

			r.Post("/chat", cfg.ChatHandler.Chat)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/all", cfg.ConversationHandler.All)
				r.Post("/get", cfg.ConversationHandler.Get)
				r.Post("/delete", cfg.ConversationHandler.Delete)
			})

			r.Delete("/knowledge/source", cfg.KnowledgeHandler.DeleteSource)
		})
	})

	return r
}
