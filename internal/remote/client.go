// Package remote implements the authenticated HTTP wrapper around the
// backend API consumed by the sync engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pocketplan/internal/config"
	"pocketplan/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client talks JSON to the backend. Every call is rate limited,
// carries a bearer token from the configured token source and a
// bounded per-call timeout.
type Client struct {
	baseURL string
	http    *http.Client
	token   oauth2.TokenSource
	limiter *rate.Limiter
	timeout time.Duration
	logger  zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, token oauth2.TokenSource, logger zerolog.Logger) *Client {
	if token == nil {
		token = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{},
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logger,
	}
}

// entityDoc is the wire form of an entity. Sync metadata stays local;
// only identity, timestamps, tombstone and the payload travel.
type entityDoc struct {
	ID        string                `json:"id"`
	Kind      models.EntityKind     `json:"kind"`
	UpdatedAt time.Time             `json:"updated_at"`
	Deleted   bool                  `json:"deleted,omitempty"`
	Task      *models.Task          `json:"task,omitempty"`
	Event     *models.CalendarEvent `json:"event,omitempty"`
}

func toDoc(e models.Entity) entityDoc {
	return entityDoc{
		ID:        e.ID,
		Kind:      e.Kind,
		UpdatedAt: e.UpdatedAt,
		Deleted:   e.Deleted,
		Task:      e.Task,
		Event:     e.Event,
	}
}

func (d entityDoc) toEntity() models.Entity {
	return models.Entity{
		ID:        d.ID,
		Kind:      d.Kind,
		UpdatedAt: d.UpdatedAt,
		Deleted:   d.Deleted,
		Task:      d.Task,
		Event:     d.Event,
	}
}

type listResponse struct {
	Items      []entityDoc `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(callCtx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := c.token.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return &RequestError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		return payload.Message
	}
	return strings.TrimSpace(string(raw))
}

// ListEntities fetches canonical records of a kind. A non-empty
// cursor requests changes since the previous pull; the returned
// cursor resumes the next one. Deleted records come back with the
// deleted flag set, the feed never silently drops them.
func (c *Client) ListEntities(ctx context.Context, kind models.EntityKind, cursor string) ([]models.Entity, string, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/v1/"+string(kind), query, nil, &resp); err != nil {
		return nil, "", err
	}

	entities := make([]models.Entity, 0, len(resp.Items))
	for _, doc := range resp.Items {
		entities = append(entities, doc.toEntity())
	}
	return entities, resp.NextCursor, nil
}

// CreateEntity submits a locally created record. The response carries
// the server-assigned identifier and canonical updated_at.
func (c *Client) CreateEntity(ctx context.Context, entity models.Entity) (models.Entity, error) {
	doc := toDoc(entity)
	// Tentative identifiers never leave the device.
	doc.ID = ""

	var created entityDoc
	if err := c.do(ctx, http.MethodPost, "/v1/"+string(entity.Kind), nil, doc, &created); err != nil {
		return models.Entity{}, err
	}
	return created.toEntity(), nil
}

// UpdateEntity submits a local edit and returns the canonical
// post-update record.
func (c *Client) UpdateEntity(ctx context.Context, entity models.Entity) (models.Entity, error) {
	var updated entityDoc
	path := fmt.Sprintf("/v1/%s/%s", entity.Kind, entity.ID)
	if err := c.do(ctx, http.MethodPut, path, nil, toDoc(entity), &updated); err != nil {
		return models.Entity{}, err
	}
	return updated.toEntity(), nil
}

// DeleteEntity confirms a local tombstone remotely. A 404 means the
// record is already absent, which is the desired end state.
func (c *Client) DeleteEntity(ctx context.Context, kind models.EntityKind, id string) error {
	path := fmt.Sprintf("/v1/%s/%s", kind, id)
	err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)

	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
		c.logger.Debug().Str("id", id).Msg("delete target already absent")
		return nil
	}
	return err
}
