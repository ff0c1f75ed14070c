// Package engine talks to a hosted geospatial analysis service that serves
// vector assets and evaluates zonal reductions over its raster catalog.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	orbjson "github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/geojson"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
)

const backend = "engine"

// Error codes returned in the body of 4xx responses.
const (
	codeNoData        = "no_data"
	codeTooManyPixels = "too_many_pixels"
)

// Client implements domain.FeatureStore and domain.RasterArchive over the
// engine's HTTP API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an engine client. metrics may be nil.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		metrics: metrics,
	}
}

// LoadFeatures fetches a vector asset as GeoJSON.
func (c *Client) LoadFeatures(ctx context.Context, asset string) (domain.FeatureCollection, error) {
	u := c.baseURL + "/v1/features?" + url.Values{"asset": {asset}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")

	body, err := c.do(req, "features")
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("load %s: %w", asset, err)
	}

	fc, err := geojson.Decode(body, asset)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("load %s: %w", asset, err)
	}
	c.logger.Info("features loaded", "asset", asset, "count", fc.Len())
	return fc, nil
}

// ZonalReduce asks the engine to composite the stack and reduce it over the
// request geometry.
func (c *Client) ZonalReduce(ctx context.Context, zr domain.ZonalRequest) (map[domain.Reducer]float64, error) {
	start := time.Now()
	out, err := c.zonalReduce(ctx, zr)
	c.observe(start, err)
	return out, err
}

func (c *Client) zonalReduce(ctx context.Context, zr domain.ZonalRequest) (map[domain.Reducer]float64, error) {
	payload, err := json.Marshal(zonalRequest{
		Stack:     zr.Stack,
		Composite: zr.Composite,
		Geometry:  orbjson.NewGeometry(zr.Geometry),
		Reducers:  zr.Reducers,
		Scale:     zr.Scale,
		MaxPixels: zr.MaxPixels,
	})
	if err != nil {
		return nil, fmt.Errorf("encode zonal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/zonal", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "zonal")
	if err != nil {
		return nil, err
	}

	var resp zonalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode zonal response: %w", err)
	}

	// Null values mean the region covered no valid pixels; leave them out so
	// the caller sees the reducer as missing.
	out := make(map[domain.Reducer]float64, len(resp.Values))
	for name, v := range resp.Values {
		if v != nil {
			out[domain.Reducer(name)] = *v
		}
	}
	return out, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, fmt.Errorf("%s request: %w", op, err)
		}
		return nil, domain.NewTransientError(fmt.Errorf("%s request: %w", op, err), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("read %s response: %w", op, err), resp.StatusCode)
	}
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	apiErr := fmt.Errorf("engine API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", domain.ErrAssetNotFound, apiErr)
	case domain.IsTransientHTTPStatus(resp.StatusCode):
		return nil, domain.NewTransientError(apiErr, resp.StatusCode)
	}

	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		switch e.Error.Code {
		case codeNoData:
			return nil, fmt.Errorf("%w: %w", domain.ErrNoData, apiErr)
		case codeTooManyPixels:
			return nil, fmt.Errorf("%w: %w", domain.ErrTooManyPixels, apiErr)
		}
	}
	return nil, apiErr
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, domain.ErrNoData):
		outcome = "no_data"
	case err != nil:
		outcome = "error"
	}
	c.metrics.ArchiveRequests.WithLabelValues(backend, outcome).Inc()
	c.metrics.ArchiveDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

// Engine API wire types.

type zonalRequest struct {
	Stack     domain.StackRef   `json:"stack"`
	Composite domain.Composite  `json:"composite"`
	Geometry  *orbjson.Geometry `json:"geometry"`
	Reducers  []domain.Reducer  `json:"reducers"`
	Scale     float64           `json:"scale"`
	MaxPixels int64             `json:"max_pixels"`
}

type zonalResponse struct {
	Values map[string]*float64 `json:"values"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
