package agentcard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/errors"
)

// Discovery constants for AgentCard HTTP endpoints.
const (
	// WellKnownPath is the location of the discovery document.
	WellKnownPath = "/.well-known/agent.json"
	// DefaultMediaType is the media type of the served document.
	DefaultMediaType = "application/json"
)

// maxCardBytes bounds a fetched card.
const maxCardBytes = 1 << 20

// PublishHandler serves the card returned by source. The card is rebuilt on
// every request so that it tracks catalog changes.
func PublishHandler(source func() *a2a.AgentCard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var card *a2a.AgentCard
		if source != nil {
			card = source()
		}
		if card == nil {
			http.Error(w, "agent card not configured", http.StatusNotFound)
			return
		}
		payload, err := json.Marshal(card)
		if err != nil {
			http.Error(w, "failed to encode agent card", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", DefaultMediaType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
}

// Fetch retrieves and validates the AgentCard published under baseURL.
func Fetch(ctx context.Context, client *http.Client, baseURL string) (*a2a.AgentCard, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", DefaultMediaType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card fetch failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCardBytes))
	if err != nil {
		return nil, err
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, errors.New(errors.CodeInvalidAgentCard, "agent card is not valid JSON", err)
	}
	if err := Validate(&card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Validate checks the fields a client needs to talk to the agent.
func Validate(card *a2a.AgentCard) error {
	if card == nil {
		return errors.New(errors.CodeInvalidAgentCard, "agent card is missing", nil)
	}
	var missing []string
	if card.Name == "" {
		missing = append(missing, "name")
	}
	if card.URL == "" {
		missing = append(missing, "url")
	}
	if card.ProtocolVersion == "" {
		missing = append(missing, "protocolVersion")
	}
	if len(missing) > 0 {
		return errors.New(errors.CodeInvalidAgentCard, "agent card is missing "+strings.Join(missing, ", "), nil).
			WithContext("fields", missing)
	}
	if card.ProtocolVersion != a2a.ProtocolVersion {
		return errors.New(errors.CodeVersionUnsupported,
			fmt.Sprintf("unsupported protocol version %q", card.ProtocolVersion), nil).
			WithContext("supported", a2a.ProtocolVersion)
	}
	return nil
}
