package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/example/package-dispatch/internal/geo"
	"github.com/example/package-dispatch/internal/models"
)

// RouteEstimator returns road distance (meters) and duration (seconds)
// between two points.
type RouteEstimator interface {
	Route(ctx context.Context, from, to models.Point) (distanceM, durationS float64, err error)
}

// MatrixClient queries a DistanceMatrix-compatible HTTP API.
type MatrixClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewMatrixClient(endpoint, apiKey string) *MatrixClient {
	return &MatrixClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (m *MatrixClient) Route(ctx context.Context, from, to models.Point) (float64, float64, error) {
	q := url.Values{}
	q.Set("origins", fmt.Sprintf("%.6f,%.6f", from.Lat(), from.Lon()))
	q.Set("destinations", fmt.Sprintf("%.6f,%.6f", to.Lat(), to.Lon()))
	q.Set("key", m.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: distance matrix: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()
	var out struct {
		Status string `json:"status"`
		Rows   []struct {
			Elements []struct {
				Status   string `json:"status"`
				Distance struct {
					Value float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Value float64 `json:"value"`
				} `json:"duration"`
			} `json:"elements"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("%w: decode distance matrix: %v", models.ErrUpstream, err)
	}
	if out.Status != "OK" || len(out.Rows) == 0 || len(out.Rows[0].Elements) == 0 || out.Rows[0].Elements[0].Status != "OK" {
		return 0, 0, fmt.Errorf("%w: distance matrix status %q", models.ErrUpstream, out.Status)
	}
	el := out.Rows[0].Elements[0]
	return el.Distance.Value, el.Duration.Value, nil
}

// HaversineEstimator is the offline fallback: straight-line distance at a
// fixed city speed.
type HaversineEstimator struct {
	SpeedMps float64
}

func (h HaversineEstimator) Route(ctx context.Context, from, to models.Point) (float64, float64, error) {
	speed := h.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat(), from.Lon(), to.Lat(), to.Lon())
	return d, d / speed, nil
}

// quoteCache is a small in-memory TTL cache for quotes, used when Redis is
// not configured.
type quoteCache struct {
	mu    sync.RWMutex
	store map[string]quoteEntry
	ttl   time.Duration
}

type quoteEntry struct {
	q  Quote
	ts time.Time
}

func newQuoteCache(ttl time.Duration) *quoteCache {
	return &quoteCache{store: make(map[string]quoteEntry), ttl: ttl}
}

func (c *quoteCache) Get(key string) (Quote, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return Quote{}, false
	}
	return e.q, true
}

func (c *quoteCache) Set(key string, q Quote) {
	c.mu.Lock()
	c.store[key] = quoteEntry{q: q, ts: time.Now()}
	c.mu.Unlock()
}
