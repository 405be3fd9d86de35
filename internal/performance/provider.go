package performance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pledgeline/pledgeline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CountProvider resolves the measured performance count for a campaign
// window. The capture pipeline that produces the count is an external
// collaborator; settlement only consumes the final number.
type CountProvider interface {
	Count(ctx context.Context, sourceRef string, windowStart, windowEnd time.Time) (int64, error)
}

var (
	ErrSourceRefRequired = errors.New("source_ref_required")
	ErrUnavailable       = errors.New("performance_unavailable")
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type httpProvider struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPProvider(p Params) CountProvider {
	return &httpProvider{
		baseURL: p.Cfg.PerformanceBaseURL,
		client:  &http.Client{Timeout: p.Cfg.PerformanceTimeout},
		log:     p.Log.Named("performance.provider"),
	}
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (p *httpProvider) Count(ctx context.Context, sourceRef string, windowStart, windowEnd time.Time) (int64, error) {
	if sourceRef == "" {
		return 0, ErrSourceRefRequired
	}

	endpoint := fmt.Sprintf("%s/v1/counts/%s?%s",
		p.baseURL,
		url.PathEscape(sourceRef),
		url.Values{
			"from": []string{windowStart.UTC().Format(time.RFC3339)},
			"to":   []string{windowEnd.UTC().Format(time.RFC3339)},
		}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.log.Warn("performance source returned non-200",
			zap.String("source_ref", sourceRef),
			zap.Int("status", resp.StatusCode),
		)
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body countResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body.Count < 0 {
		return 0, nil
	}
	return body.Count, nil
}

var Module = fx.Module("performance",
	fx.Provide(NewHTTPProvider),
)
