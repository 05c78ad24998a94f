package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
)

func NewRouter(handler *Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handler.Root)
	mux.HandleFunc("GET /api/v1/health", handler.Health)

	mux.HandleFunc("POST /api/v1/audio/upload", handler.UploadAudio)
	mux.HandleFunc("GET /api/v1/audio", handler.ListAudio)
	mux.HandleFunc("GET /api/v1/audio/{audio_id}", handler.GetAudio)
	mux.HandleFunc("DELETE /api/v1/audio/{audio_id}", handler.DeleteAudio)

	mux.HandleFunc("POST /api/v1/process/{audio_id}", handler.StartProcessing)
	mux.HandleFunc("GET /api/v1/transcription/{transcription_id}", handler.GetTranscription)
	mux.HandleFunc("GET /api/v1/summary/{summary_id}", handler.GetSummary)

	return withCORS(mux, allowedOrigins)
}

// withCORS echoes allowed origins with credentials and answers preflight
// requests itself.
func withCORS(next http.Handler, allowedOrigins []string) http.Handler {
	allowAll := slices.Contains(allowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || slices.Contains(allowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response error", "error", err)
	}
}
