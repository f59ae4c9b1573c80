// Package handler upgrades HTTP requests to relay connections.
package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"duocall/pkg/socket"
)

// Processor serves one activated socket.
type Processor interface {
	Process(ctx context.Context, sock socket.Socket) error
}

// Handler wraps the gorilla/websocket connection.
type Handler struct {
	processor Processor
}

// New creates a new Handler.
func New(p Processor) *Handler {
	return &Handler{
		processor: p,
	}
}

// ServeHTTP handles the HTTP request and upgrades it to websocket connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := socket.New(w, r)
	if err != nil {
		log.Debug().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer func() {
		if err := sock.Close(); err != nil {
			log.Debug().Err(err).Msg("error occurs in closing connection")
		}
	}()

	if err := h.processor.Process(r.Context(), sock); err != nil {
		log.Debug().Err(err).Msg("connection finished")
	}
}
