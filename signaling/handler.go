// Package signaling exchanges ICE descriptions between two peers over HTTP.
package signaling

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/icesrc/ice"
)

const (
	descriptionPath = "/description"
	candidatePath   = "/candidate"

	contentTypeSDP = "application/sdp"

	maxBodySize = 64 * 1024
)

type DescriptionHandler interface {
	HandleDescription(*ice.Description) error
	LocalDescription() (*ice.Description, error)
}

// CandidateHandler receives trickled remote candidates.
type CandidateHandler interface {
	HandleCandidate(ice.Candidate) error
}

type HTTPHandlerOption func(*HTTPHandler)

func HandlerLogger(logger *slog.Logger) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		h.logger = logger
	}
}

// HandlerCandidates enables the candidate endpoint.
func HandlerCandidates(ch CandidateHandler) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		h.ch = ch
	}
}

type HTTPHandler struct {
	logger *slog.Logger
	dh     DescriptionHandler
	ch     CandidateHandler
}

func NewHTTPHandler(dh DescriptionHandler, opts ...HTTPHandlerOption) *HTTPHandler {
	h := &HTTPHandler{
		logger: slog.Default(),
		dh:     dh,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPHandler) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc(http.MethodPost, descriptionPath, h.HandleDescription)
	mux.HandlerFunc(http.MethodGet, descriptionPath, h.GetDescription)
	if h.ch != nil {
		mux.HandlerFunc(http.MethodPost, candidatePath, h.HandleCandidate)
	}
}

func (h *HTTPHandler) HandleDescription(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read session description: %v", err), http.StatusBadRequest)
		return
	}
	d, err := ice.UnmarshalDescription(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to decode session description: %v", err), http.StatusBadRequest)
		return
	}
	h.logger.Info("received remote description", "candidates", len(d.Candidates))
	if err = h.dh.HandleDescription(d); err != nil {
		http.Error(w, fmt.Sprintf("failed to handle session description: %v", err), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) GetDescription(w http.ResponseWriter, r *http.Request) {
	d, err := h.dh.LocalDescription()
	if err != nil {
		h.logger.Error("failed to get local description", "error", err)
		http.Error(w, "local description not available", http.StatusServiceUnavailable)
		return
	}
	body, err := d.Marshal()
	if err != nil {
		h.logger.Error("failed to encode local description", "error", err)
		http.Error(w, "failed to encode local description", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeSDP)
	if _, err = w.Write(body); err != nil {
		h.logger.Error("failed to write local description", "error", err)
	}
}

func (h *HTTPHandler) HandleCandidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read candidate: %v", err), http.StatusBadRequest)
		return
	}
	c, err := ice.ParseCandidate(string(body))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse candidate: %v", err), http.StatusBadRequest)
		return
	}
	if err = h.ch.HandleCandidate(c); err != nil {
		http.Error(w, fmt.Sprintf("failed to handle ICE candidate: %v", err), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
