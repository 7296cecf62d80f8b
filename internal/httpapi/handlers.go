package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/domain"
	"github.com/DoyleJ11/quiz-arena-backend/internal/hub"
	"github.com/DoyleJ11/quiz-arena-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-arena-backend/internal/types"
)

const (
	qrSize             = 320
	defaultResultLimit = 20
)

// ResultStore reads finished games back, newest first.
type ResultStore interface {
	Recent(ctx context.Context, n int) ([]domain.GameResult, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.NewError(code, msg))
}

func CreateGame(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, err := h.Create(r.Context())
		if err != nil {
			log.Error("http: create game failed", zap.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, hub.ErrCodeSpaceExhausted) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, types.CodeInternal, "failed to create game")
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: lb.Code()})
	}
}

// findGame writes the error response itself when the game cannot be found.
func findGame(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*lobby.Lobby, bool) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if !types.ValidCode(code) {
		writeError(w, http.StatusBadRequest, types.CodeMalformed, "invalid game code")
		return nil, false
	}
	lb, err := h.Get(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusNotFound, types.CodeSessionNotFound, err.Error())
		return nil, false
	}
	return lb, true
}

func GetGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, ok := findGame(w, r, h)
		if !ok {
			return
		}
		v, err := lb.View(r.Context())
		if err != nil {
			writeError(w, http.StatusNotFound, types.CodeSessionNotFound, hub.ErrNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, v.Snapshot)
	}
}

// JoinQR renders a PNG QR code pointing players at the join page of a game.
func JoinQR(h *hub.Hub, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, ok := findGame(w, r, h)
		if !ok {
			return
		}

		base := strings.TrimSuffix(publicURL, "/")
		if base == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}
			base = scheme + "://" + r.Host
		}

		png, err := qrcode.Encode(base+"/?code="+lb.Code(), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func RecentResults(store ResultStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, types.CodeInternal, "results are not enabled")
			return
		}

		limit := defaultResultLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, types.CodeMalformed, "limit must be a positive integer")
				return
			}
			limit = n
		}

		res, err := store.Recent(r.Context(), limit)
		if err != nil {
			log.Error("http: read results failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, types.CodeInternal, "failed to read results")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
