package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/hookline/hookline/internal/auth"
	"github.com/hookline/hookline/internal/bus"
	"github.com/hookline/hookline/internal/capture"
	"github.com/hookline/hookline/internal/notify"
	"github.com/hookline/hookline/internal/store"
)

var validate = validator.New()

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	store    store.Store
	pipeline *capture.Pipeline
	bus      *bus.Bus
	settings *notify.Settings
	verifier auth.Verifier
	logger   *log.Logger
	baseURL  string
}

func NewHandler(s store.Store, p *capture.Pipeline, b *bus.Bus, ns *notify.Settings, v auth.Verifier, baseURL string, logger *log.Logger) *Handler {
	return &Handler{
		store:    s,
		pipeline: p,
		bus:      b,
		settings: ns,
		verifier: v,
		logger:   logger,
		baseURL:  baseURL,
	}
}

// Routes builds the full router. Request logging is skipped on capture
// paths so arbitrary inbound traffic is not rewritten or buffered before
// the pipeline sees it.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(skipCaptureLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Live fan-out surfaces.
	r.Get("/events/{endpointID}", h.Events)
	r.Get("/ws/{endpointID}", h.WebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/endpoints/{endpointID}/requests", h.ListRequests)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Post("/endpoints", h.CreateEndpoint)
			r.Get("/endpoints", h.ListEndpoints)
			r.Delete("/endpoints/{endpointID}", h.DeleteEndpoint)
			r.Post("/endpoints/{endpointID}/requests/{seq}/replay", h.ReplayRequest)
			r.Put("/settings", h.UpdateSettings)
		})
	})

	// Capture receiver accepts every method.
	r.HandleFunc("/h/{endpointID}", h.CaptureWebhook)
	r.HandleFunc("/h/{endpointID}/*", h.CaptureWebhook)

	return r
}

func skipCaptureLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= 3 && r.URL.Path[:3] == "/h/" {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal JSON response: %v", payload)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

// requestJSON is the wire shape of a captured request on the stream and
// API surfaces. The body rides as base64; timestamps are ISO-8601.
type requestJSON struct {
	Seq        int64        `json:"seq"`
	EndpointID string       `json:"endpoint_id"`
	Method     string       `json:"method"`
	Headers    []store.Pair `json:"headers"`
	Query      []store.Pair `json:"query"`
	Body       []byte       `json:"body"`
	ReceivedAt string       `json:"received_at"`
}

func toRequestJSON(r *store.CapturedRequest) requestJSON {
	return requestJSON{
		Seq:        r.Seq,
		EndpointID: r.EndpointID,
		Method:     r.Method,
		Headers:    r.Headers,
		Query:      r.Query,
		Body:       r.Body,
		ReceivedAt: r.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toRequestJSONs(reqs []*store.CapturedRequest) []requestJSON {
	out := make([]requestJSON, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toRequestJSON(r))
	}
	return out
}
