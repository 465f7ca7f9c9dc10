// Package narrative turns combat hooks into prose through an external
// collaborator. Narrators may fail; callers treat failures as non-fatal.
package narrative

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"questline/internal/domain"
)

//go:embed prompts/narrate.txt
var narratePrompt string

var promptTemplate = template.Must(template.New("narrate").Funcs(template.FuncMap{
	"deref": func(v *int) int {
		if v == nil {
			return 0
		}
		return *v
	},
}).Parse(narratePrompt))

// Prompt renders hooks into the narrator prompt.
func Prompt(hooks []domain.NarrativeHook) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, struct{ Hooks []domain.NarrativeHook }{Hooks: hooks}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Noop never narrates.
type Noop struct{}

func (Noop) Narrate(ctx context.Context, hooks []domain.NarrativeHook) (string, error) {
	return "", nil
}

// Webhook posts the hooks as JSON and expects {"text": "..."} back.
type Webhook struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
}

type webhookRequest struct {
	Hooks []domain.NarrativeHook `json:"hooks"`
}

type webhookResponse struct {
	Text string `json:"text"`
}

func (w Webhook) Narrate(ctx context.Context, hooks []domain.NarrativeHook) (string, error) {
	client := w.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	data, err := json.Marshal(webhookRequest{Hooks: hooks})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Questline-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("narrator status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out webhookResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode narrator response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
