// Package conditions reads actor conditions from a remote health collaborator.
package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"questline/internal/domain"
)

// HTTPSource fetches conditions over HTTP. The remote side serves
// GET /actors/{id}/conditions as {"items": [...]} and
// GET /actors/{id}/modifiers as {"modifiers": {...}}.
type HTTPSource struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{BaseURL: baseURL, BearerToken: token, Timeout: 5 * time.Second}
}

func (s *HTTPSource) ActiveConditions(ctx context.Context, actorID string) ([]domain.Condition, error) {
	var resp struct {
		Items []domain.Condition `json:"items"`
	}
	if err := s.get(ctx, fmt.Sprintf("actors/%s/conditions", url.PathEscape(actorID)), &resp); err != nil {
		return nil, err
	}
	for _, c := range resp.Items {
		if c.RoundsRemaining < 0 {
			return nil, fmt.Errorf("condition %s: negative rounds_remaining from source", c.Key())
		}
	}
	if resp.Items == nil {
		resp.Items = []domain.Condition{}
	}
	return resp.Items, nil
}

func (s *HTTPSource) TotalStatModifiers(ctx context.Context, actorID string) (map[string]int, error) {
	var resp struct {
		Modifiers map[string]int `json:"modifiers"`
	}
	if err := s.get(ctx, fmt.Sprintf("actors/%s/modifiers", url.PathEscape(actorID)), &resp); err != nil {
		return nil, err
	}
	if resp.Modifiers == nil {
		resp.Modifiers = map[string]int{}
	}
	return resp.Modifiers, nil
}

func (s *HTTPSource) get(ctx context.Context, endpoint string, out any) error {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: s.Timeout}
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if s.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.BearerToken)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("condition source status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}
