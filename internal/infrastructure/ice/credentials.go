package ice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/pkg/cache"
	"sfulink/pkg/circuitbreaker"
	"sfulink/pkg/logger"
	"sfulink/pkg/retry"

	"go.uber.org/zap"
)

var (
	errUnauthorized = errors.New("credentials endpoint rejected the session token")
	errNoServers    = errors.New("credentials endpoint returned no servers")
)

// DefaultFallback is used when neither the endpoint nor the configuration yield servers
var DefaultFallback = []domain.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// TokenSource returns the bearer token sent to the credentials endpoint
type TokenSource func() (string, error)

type Config struct {
	URL      string
	Timeout  time.Duration
	Fallback []domain.ICEServer
	Retry    retry.Config
	Breaker  circuitbreaker.Config
	CacheTTL time.Duration // 0 fetches on every negotiation
}

// Fetcher loads STUN/TURN servers from the credentials endpoint
type Fetcher struct {
	cfg     Config
	token   TokenSource
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	cache   *cache.Cache[string, []domain.ICEServer]
	logger  *zap.SugaredLogger
}

func NewFetcher(cfg Config, token TokenSource, logger *zap.SugaredLogger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Fallback) == 0 {
		cfg.Fallback = DefaultFallback
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = circuitbreaker.DefaultConfig()
	}
	cfg.Retry.NonRetryableErrors = append(cfg.Retry.NonRetryableErrors, errUnauthorized, circuitbreaker.ErrOpen)

	breaker := circuitbreaker.New("ice-credentials", cfg.Breaker, nil)
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
	})

	f := &Fetcher{
		cfg:     cfg,
		token:   token,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
	if cfg.CacheTTL > 0 {
		f.cache = cache.New[string, []domain.ICEServer](cfg.CacheTTL, nil)
	}
	return f
}

// Fetch never fails; any error yields the fallback servers.
func (f *Fetcher) Fetch(ctx context.Context) []domain.ICEServer {
	if f.cfg.URL == "" {
		return f.fallback()
	}

	load := func(ctx context.Context) ([]domain.ICEServer, error) {
		servers, err := retry.RetryWithResult(ctx, f.cfg.Retry, func() ([]domain.ICEServer, error) {
			return circuitbreaker.Execute(ctx, f.breaker, f.request)
		})
		if err == nil && len(servers) == 0 {
			err = errNoServers
		}
		return servers, err
	}

	var servers []domain.ICEServer
	var err error
	if f.cache != nil {
		servers, err = f.cache.GetOrLoad(ctx, f.cfg.URL, load)
	} else {
		servers, err = load(ctx)
	}
	if errors.Is(err, errNoServers) {
		return f.fallback()
	}
	if err != nil {
		logger.With(ctx, f.logger).Warnw("using fallback ice servers", "url", f.cfg.URL, "error", err)
		return f.fallback()
	}
	return cloneServers(servers)
}

func (f *Fetcher) fallback() []domain.ICEServer {
	return cloneServers(f.cfg.Fallback)
}

// cloneServers copies the list and each server's URLs
func cloneServers(servers []domain.ICEServer) []domain.ICEServer {
	out := make([]domain.ICEServer, len(servers))
	for i, s := range servers {
		s.URLs = append([]string(nil), s.URLs...)
		out[i] = s
	}
	return out
}

func (f *Fetcher) request(ctx context.Context) ([]domain.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if f.token != nil {
		token, err := f.token()
		if err != nil {
			return nil, fmt.Errorf("failed to issue session token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("credentials endpoint returned %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	servers := make([]domain.ICEServer, 0, len(body.ICEServers))
	for _, s := range body.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		servers = append(servers, domain.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers, nil
}

type response struct {
	ICEServers []server `json:"iceServers"`
}

type server struct {
	URLs       urls   `json:"urls"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

// urls accepts a single url or a list
type urls []string

func (u *urls) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*u = urls{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("urls must be a string or a list: %w", err)
	}
	*u = many
	return nil
}
