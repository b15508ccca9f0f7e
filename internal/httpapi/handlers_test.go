package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/status"
	"github.com/wadcom/minimailgun/internal/store/memory"
	"github.com/wadcom/minimailgun/internal/submission"
)

func setupHandlers(t *testing.T) *Handlers {
	t.Helper()
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	clients := NewClientRegistry([]string{"acme"})
	return New(clients, submission.New(st), status.New(st))
}

func doJSON(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSendHappyPath(t *testing.T) {
	h := setupHandlers(t)

	rec := doJSON(h.Send, `{"client_id":"acme","sender":"s@e2e-test.com","recipients":["u@a.com"],"subject":"t","body":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp.Result)
	require.NotEmpty(t, resp.SubmissionID)
}

func TestSendUnknownClientID(t *testing.T) {
	h := setupHandlers(t)

	rec := doJSON(h.Send, `{"client_id":"nope","sender":"s@e2e-test.com","recipients":["u@a.com"],"subject":"t","body":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMissingField(t *testing.T) {
	h := setupHandlers(t)

	rec := doJSON(h.Send, `{"client_id":"acme","recipients":["u@a.com"],"subject":"t","body":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendRejectsNonJSON(t *testing.T) {
	h := setupHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.Send(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestStatusHappyPath(t *testing.T) {
	h := setupHandlers(t)

	sendRec := doJSON(h.Send, `{"client_id":"acme","sender":"s@e2e-test.com","recipients":["u@a.com"],"subject":"t","body":"hi"}`)
	var sendResp sendResponse
	require.NoError(t, json.Unmarshal(sendRec.Body.Bytes(), &sendResp))

	statusRec := doJSON(h.Status, `{"client_id":"acme","submission_id":"`+sendResp.SubmissionID+`"}`)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var statusResp statusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))
	require.Equal(t, "success", statusResp.Result)
	require.Equal(t, "queued", statusResp.Status)
}

func TestStatusUnknownSubmission(t *testing.T) {
	h := setupHandlers(t)

	rec := doJSON(h.Status, `{"client_id":"acme","submission_id":"nope"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Result)
}

func TestStatusCrossClientIsolation(t *testing.T) {
	clk := clock.NewFake(1000)
	st := memory.New(clk, 0, 1)
	clients := NewClientRegistry([]string{"acme", "other"})
	h := New(clients, submission.New(st), status.New(st))

	sendRec := doJSON(h.Send, `{"client_id":"acme","sender":"s@e2e-test.com","recipients":["u@a.com"],"subject":"t","body":"hi"}`)
	var sendResp sendResponse
	require.NoError(t, json.Unmarshal(sendRec.Body.Bytes(), &sendResp))

	statusRec := doJSON(h.Status, `{"client_id":"other","submission_id":"`+sendResp.SubmissionID+`"}`)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var resp statusErrorResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Result)
}
