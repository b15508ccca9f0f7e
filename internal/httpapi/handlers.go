// Package httpapi is the HTTP front door: request parsing, JSON encoding
// and client authentication for POST /send and POST /status, thin on top
// of the submission adapter and status aggregator.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wadcom/minimailgun/internal/pkg/httputil"
	"github.com/wadcom/minimailgun/internal/status"
	"github.com/wadcom/minimailgun/internal/submission"
)

// Handlers wires the submission adapter and status aggregator to HTTP.
type Handlers struct {
	clients     *ClientRegistry
	submissions *submission.Adapter
	statuses    *status.Aggregator
}

// New creates Handlers. clients authenticates every request by its
// client_id body field.
func New(clients *ClientRegistry, submissions *submission.Adapter, statuses *status.Aggregator) *Handlers {
	return &Handlers{clients: clients, submissions: submissions, statuses: statuses}
}

type sendRequest struct {
	ClientID   string   `json:"client_id"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

type sendResponse struct {
	Result       string `json:"result"`
	SubmissionID string `json:"submission_id"`
}

// Send handles POST /send.
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		httputil.Error(w, http.StatusUnsupportedMediaType, "expected application/json")
		return
	}

	var req sendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	if !h.clients.Valid(req.ClientID) {
		httputil.Error(w, http.StatusUnauthorized, "unknown client_id")
		return
	}

	submissionID, err := h.submissions.Submit(r.Context(), submission.Request{
		ClientID:   req.ClientID,
		Sender:     req.Sender,
		Recipients: req.Recipients,
		Subject:    req.Subject,
		Body:       req.Body,
	})
	if err != nil {
		if errors.Is(err, submission.ErrMissingField) {
			httputil.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, sendResponse{Result: "queued", SubmissionID: submissionID})
}

type statusRequest struct {
	ClientID     string `json:"client_id"`
	SubmissionID string `json:"submission_id"`
}

type statusResponse struct {
	Result string `json:"result"`
	Status string `json:"status,omitempty"`
}

type statusErrorResponse struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

// Status handles POST /status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		httputil.Error(w, http.StatusUnsupportedMediaType, "expected application/json")
		return
	}

	var req statusRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	if !h.clients.Valid(req.ClientID) {
		httputil.Error(w, http.StatusUnauthorized, "unknown client_id")
		return
	}

	s, err := h.statuses.StatusOf(r.Context(), req.ClientID, req.SubmissionID)
	if err != nil {
		if errors.Is(err, status.ErrUnknownSubmission) {
			httputil.OK(w, statusErrorResponse{
				Result:  "error",
				Message: "unknown submission id " + req.SubmissionID,
			})
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, statusResponse{Result: "success", Status: string(s)})
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
