// HTTP client for the Phoenix span REST API
// Pages through a project's spans and resolves missing projects
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
	"go.uber.org/zap"
)

// maxPageSize is the largest page the span listing endpoint serves.
const maxPageSize = 1000

// Phoenix fetches spans from a Phoenix server. Each agent's spans live in
// a project named after the agent.
type Phoenix struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPhoenix creates a client for the server at baseURL.
func NewPhoenix(baseURL string, timeout time.Duration, logger *zap.Logger) *Phoenix {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Phoenix{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status code from phoenix: %d", e.code)
	}
	return fmt.Sprintf("unexpected status code from phoenix: %d: %s", e.code, e.body)
}

// doRequest performs a GET against the API and returns the body of a 200.
// Path elements are escaped individually.
func (p *Phoenix) doRequest(ctx context.Context, params url.Values, apiPath ...string) ([]byte, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath(apiPath...)
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phoenix request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(excerpt)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// FetchSpans pages through the agent's project until limit spans are read,
// then keeps the traces correlated with correlationKey.
func (p *Phoenix) FetchSpans(ctx context.Context, correlationKey, agent string, limit int) ([]span.Span, error) {
	if agent == "" {
		return nil, fmt.Errorf("agent name is required to locate the phoenix project\n\nSet it with --agent or A2ATRACE_AGENT")
	}
	limit = effectiveLimit(limit)

	var spans []span.Span
	cursor := ""
	for len(spans) < limit {
		params := url.Values{"limit": []string{strconv.Itoa(min(limit-len(spans), maxPageSize))}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := p.doRequest(ctx, params, "v1", "projects", agent, "spans")
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code == http.StatusNotFound {
				return nil, p.projectNotFound(ctx, agent)
			}
			p.logger.Error("failed to fetch spans", zap.String("project", agent), zap.Error(err))
			return nil, err
		}

		var page span.Page
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing span page: %w", err)
		}
		for i := range page.Data {
			span.NormaliseStatus(&page.Data[i])
		}
		spans = append(spans, page.Data...)

		if page.NextCursor == "" || len(page.Data) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	kept := KeepCorrelatedTraces(spans, correlationKey)
	p.logger.Debug("fetched spans",
		zap.String("project", agent),
		zap.Int("fetched", len(spans)),
		zap.Int("kept", len(kept)))
	return kept, nil
}

func (p *Phoenix) projectNotFound(ctx context.Context, agent string) error {
	projects, err := p.Projects(ctx)
	if err != nil {
		p.logger.Warn("failed to list projects", zap.Error(err))
	}
	return &ProjectNotFoundError{Project: agent, Available: projects}
}

// Projects lists every project on the server.
func (p *Phoenix) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	cursor := ""
	for {
		var params url.Values
		if cursor != "" {
			params = url.Values{"cursor": []string{cursor}}
		}
		body, err := p.doRequest(ctx, params, "v1", "projects")
		if err != nil {
			return nil, err
		}
		var page struct {
			Data       []Project `json:"data"`
			NextCursor string    `json:"next_cursor"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing project list: %w", err)
		}
		projects = append(projects, page.Data...)
		if page.NextCursor == "" || len(page.Data) == 0 {
			return projects, nil
		}
		cursor = page.NextCursor
	}
}
