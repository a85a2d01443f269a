package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mhealthlab/collector/internal/rollup"
)

func seedResponseRows(store *mockStore) {
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	store.responseRows = []rollup.Row{
		{
			Username: "alice", Timestamp: ts, SurveyID: "daily",
			PromptID: "mood", Response: "good",
			Metadata: rollup.PromptMetadata{PromptType: "text"},
		},
		{
			Username: "alice", Timestamp: ts, SurveyID: "daily",
			PromptID: "sleep_hours", Response: "8",
			Metadata: rollup.PromptMetadata{PromptType: "number"},
		},
		{
			Username: "bob", Timestamp: ts.Add(time.Hour), SurveyID: "daily",
			PromptID: "mood", Response: "fine",
			Metadata: rollup.PromptMetadata{PromptType: "text"},
		},
	}
}

func TestReadResponses_DefaultFormat(t *testing.T) {
	store := newMockStore()
	seedResponseRows(store)
	server := testServer(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/responses", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d\nbody: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp struct {
		Result   string `json:"result"`
		Metadata struct {
			NumberOfSurveys int `json:"number_of_surveys"`
			NumberOfPrompts int `json:"number_of_prompts"`
		} `json:"metadata"`
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "success" {
		t.Errorf("result = %q, want success", resp.Result)
	}
	if resp.Metadata.NumberOfSurveys != 2 || resp.Metadata.NumberOfPrompts != 3 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d rows, want 2", len(resp.Data))
	}
	if resp.Data[0]["urn:ohmage:user:id"] != "alice" {
		t.Errorf("first row user = %v", resp.Data[0]["urn:ohmage:user:id"])
	}
}

func TestReadResponses_CSV(t *testing.T) {
	store := newMockStore()
	seedResponseRows(store)
	server := testServer(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/responses?output_format=csv", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d\nbody: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want an attachment", cd)
	}

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Errorf("got %d lines, want header + 2 rows:\n%s", len(lines), w.Body.String())
	}
}

func TestReadResponses_ColumnSubset(t *testing.T) {
	store := newMockStore()
	seedResponseRows(store)
	server := testServer(store)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/responses?output_format=json-columns&columns=urn:ohmage:user:id,urn:ohmage:survey:id", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d\nbody: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data map[string][]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("got %d columns, want 2: %v", len(resp.Data), resp.Data)
	}
	if _, ok := resp.Data["urn:ohmage:user:id"]; !ok {
		t.Error("missing user column")
	}
}

func TestReadResponses_UnknownFormat(t *testing.T) {
	server := testServer(newMockStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/responses?output_format=xml", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	// Failure is signaled in the payload; the transport status stays 200.
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	assertFailureEnvelope(t, w)
}

func TestReadResponses_BadDateRange(t *testing.T) {
	server := testServer(newMockStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/responses?start_date=yesterday", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	assertFailureEnvelope(t, w)
}

func TestReadResponses_StoreFailure(t *testing.T) {
	store := newMockStore()
	store.responseErr = errors.New("connection refused")
	server := testServer(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/responses?output_format=csv", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	// Errors are never CSV-encoded.
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	assertFailureEnvelope(t, w)
}

func TestReadResponses_Empty(t *testing.T) {
	server := testServer(newMockStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/responses", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d\nbody: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Result string           `json:"result"`
		Data   []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "success" {
		t.Errorf("result = %q, want success for an empty result set", resp.Result)
	}
	if len(resp.Data) != 0 {
		t.Errorf("data = %v, want empty", resp.Data)
	}
}

func assertFailureEnvelope(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	var resp struct {
		Result string `json:"result"`
		Errors []struct {
			Code string `json:"code"`
			Text string `json:"text"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if resp.Result != "failure" {
		t.Errorf("result = %q, want failure", resp.Result)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Code != "0103" {
		t.Errorf("errors = %+v", resp.Errors)
	}
}

// --- Flat-row writes ---

func TestStoreResponses(t *testing.T) {
	store := newMockStore()
	server := testServer(store)

	body := `[
		{
			"username": "alice",
			"timestamp": "2025-03-01T09:30:00Z",
			"survey_id": "daily",
			"prompt_id": "mood",
			"prompt_type": "text",
			"response": "good"
		},
		{
			"username": "alice",
			"timestamp": "2025-03-01T09:30:00Z",
			"survey_id": "daily",
			"repeatable_set_id": "meals",
			"repeatable_set_iteration": 1,
			"prompt_id": "food",
			"prompt_type": "text",
			"response": "toast"
		}
	]`
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d\nbody: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Stored int `json:"stored"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stored != 2 {
		t.Errorf("stored = %d, want 2", resp.Stored)
	}
	if len(store.responseRows) != 2 {
		t.Fatalf("persisted %d rows, want 2", len(store.responseRows))
	}
	second := store.responseRows[1]
	if second.RepeatableSetID == nil || *second.RepeatableSetID != "meals" {
		t.Errorf("RepeatableSetID = %v, want meals", second.RepeatableSetID)
	}
	if second.RepeatableSetIteration == nil || *second.RepeatableSetIteration != 1 {
		t.Errorf("RepeatableSetIteration = %v, want 1", second.RepeatableSetIteration)
	}
}

func TestStoreResponses_BadTimestamp(t *testing.T) {
	server := testServer(newMockStore())

	body := `[{
		"username": "alice",
		"timestamp": "yesterday",
		"survey_id": "daily",
		"prompt_id": "mood",
		"prompt_type": "text",
		"response": "good"
	}]`
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d\nbody: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}
