// Package httpapi exposes the Dispatch Adapter's engine-facing contract
// as the two documented HTTP endpoints: the ingest endpoint and the
// memory-reset endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/npcmediator/engine/internal/dispatch"
	"github.com/npcmediator/engine/internal/npcerrors"
	"github.com/npcmediator/engine/internal/ratelimit"
)

// Dispatcher is the subset of internal/dispatch.Adapter the HTTP layer
// needs.
type Dispatcher interface {
	Handle(ctx context.Context, speaker, speakerID, message string) (dispatch.Response, error)
	Reset()
}

// ingestRequest is the JSON body of a POST to the ingest endpoint.
type ingestRequest struct {
	Speaker  string `json:"speaker"`
	Message  string `json:"message"`
	AvatarID string `json:"avatarId"`
}

// securityHeadersMiddleware adds standard hardening headers to every
// response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the full HTTP handler: the ingest and memory-reset
// routes, wrapped with rate limiting (if limiter is non-nil) and
// security headers.
func NewHandler(d Dispatcher, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", handleChat(d))
	mux.HandleFunc("/memory/reset", handleMemoryReset(d))

	var handler http.Handler = mux
	if limiter != nil {
		handler = ratelimit.Middleware(handler, limiter)
	}
	return securityHeadersMiddleware(handler)
}

func handleChat(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Speaker == "" || req.Message == "" {
			http.Error(w, "speaker and message are required", http.StatusBadRequest)
			return
		}

		resp, err := d.Handle(r.Context(), req.Speaker, req.AvatarID, req.Message)
		if err != nil {
			writeDispatchError(w, err)
			return
		}

		switch resp.Outcome {
		case dispatch.OutcomeReplied:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(resp.Reply))
		case dispatch.OutcomeDeclined:
			w.WriteHeader(http.StatusAccepted)
		case dispatch.OutcomeReset:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func handleMemoryReset(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.Reset()
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeDispatchError maps a dispatch error to the documented response
// code: input-invalid is a client error, everything else (LLM
// transport failure) is a transport-layer 5xx.
func writeDispatchError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if errors.Is(err, npcerrors.ErrInputInvalid) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

// Start listens on addr and serves the handler until ctx is cancelled,
// then shuts down gracefully. It returns the actual address (useful for
// tests that bind to port 0).
func Start(ctx context.Context, addr string, handler http.Handler) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("httpapi: listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("httpapi: server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("httpapi: shutdown error: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}
