package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache keeps one parsed robots.txt per origin. Only answers are
// cached: a robots.txt that could not be fetched, or that answered 5xx, is
// asked for again on the next request.
type robotsCache struct {
	client *http.Client
	agent  string

	mu   sync.Mutex
	data map[string]*robotstxt.RobotsData
}

func newRobotsCache(client *http.Client, agent string) *robotsCache {
	return &robotsCache{
		client: client,
		agent:  agent,
		data:   make(map[string]*robotstxt.RobotsData),
	}
}

// allowed reports whether target may be fetched. The error is non-nil when
// robots.txt is unavailable and no decision can be made yet.
func (r *robotsCache) allowed(ctx context.Context, target *url.URL) (bool, error) {
	key := target.Scheme + "://" + target.Host

	r.mu.Lock()
	data, ok := r.data[key]
	r.mu.Unlock()

	if !ok {
		var err error
		if data, err = r.load(ctx, key); err != nil {
			return false, err
		}

		r.mu.Lock()
		r.data[key] = data
		r.mu.Unlock()
	}

	return data.TestAgent(target.RequestURI(), r.agent), nil
}

func (r *robotsCache) load(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("robots.txt: HTTP error: %s", resp.Status)
	}

	// 4xx means no rules; 2xx is parsed
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	}
	return data, nil
}
