package agentcard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
)

func TestPublishHandler_NoCard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
	rec := httptest.NewRecorder()

	PublishHandler(func() *a2a.AgentCard { return nil }).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPublishHandler_ServesCard(t *testing.T) {
	calls := 0
	source := func() *a2a.AgentCard {
		calls++
		return Build(testConfig(), []a2a.AgentSkill{{ID: "chat", Name: "Chat"}})
	}
	handler := PublishHandler(source)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != DefaultMediaType {
			t.Fatalf("expected content type %q", DefaultMediaType)
		}
		var doc map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatalf("unmarshal card: %v", err)
		}
		if doc["protocolVersion"] != a2a.ProtocolVersion {
			t.Fatalf("unexpected protocolVersion %v", doc["protocolVersion"])
		}
	}
	if calls != 2 {
		t.Fatalf("card should be rebuilt per request, built %d times", calls)
	}
}

func TestPublishHandler_RejectsPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, WellKnownPath, nil)
	rec := httptest.NewRecorder()
	PublishHandler(func() *a2a.AgentCard { return Build(testConfig(), nil) }).ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestFetch_Success(t *testing.T) {
	card := Build(testConfig(), []a2a.AgentSkill{{ID: "chat", Name: "Chat"}})
	mux := http.NewServeMux()
	mux.Handle(WellKnownPath, PublishHandler(func() *a2a.AgentCard { return card }))
	server := httptest.NewServer(mux)
	defer server.Close()

	got, err := Fetch(context.Background(), server.Client(), server.URL+"/")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if got.Name != "agora" || len(got.Skills) != 1 {
		t.Fatalf("unexpected card %+v", got)
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    errors.ErrorCode
	}{
		{
			name: "non ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			code: errors.CodeInvalidAgentCard,
		},
		{
			name: "missing fields",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"name":"x"}`))
			},
			code: errors.CodeInvalidAgentCard,
		},
		{
			name: "old protocol",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"name":"x","url":"http://x","protocolVersion":"0.1.0"}`))
			},
			code: errors.CodeVersionUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := Fetch(context.Background(), nil, server.URL)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.code != "" && !errors.HasCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}
