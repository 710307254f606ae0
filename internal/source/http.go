package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaennil/tilekit/pkg/logger"
	"github.com/jaennil/tilekit/pkg/metrics"
	"github.com/jaennil/tilekit/pkg/telemetry"
)

// HTTPSource fetches tiles over plain HTTP GET. The locator is the full
// tile URL.
type HTTPSource struct {
	client    *http.Client
	userAgent string
	referer   string
	logger    logger.Logger
}

var _ Fetcher = (*HTTPSource)(nil)

func NewHTTPSource(timeout time.Duration, userAgent, referer string, l logger.Logger) *HTTPSource {
	return &HTTPSource{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
		referer:   referer,
		logger:    l,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, locator string) ([]byte, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "tile.fetch")
	span.SetAttributes(attribute.String("tile.url", locator))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Tile usage policies require identifying headers.
	req.Header.Set("User-Agent", s.userAgent)
	if s.referer != "" {
		req.Header.Set("Referer", s.referer)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to fetch tile", "url", locator, "error", err)
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("upstream returned status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("upstream returned non-200", "url", locator, "status", resp.StatusCode)
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}

	metrics.FetchLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("tile.size", len(data)))

	s.logger.Debug("fetched tile", "url", locator, "size", len(data))

	return data, nil
}
