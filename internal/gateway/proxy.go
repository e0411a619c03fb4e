package gateway

import (
	"context"
	"net/http"
)

// forwardedHeaders are copied from the inbound request to the upstream call.
var forwardedHeaders = []string{"Content-Type", "Authorization", "Accept"}

type ServiceProxy struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewServiceProxy(name, baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		name:    name,
		baseURL: baseURL,
		client:  client,
	}
}

func (p *ServiceProxy) Name() string { return p.name }

// ForwardRequest replays r against the upstream at path, keeping the query
// string and the auth header.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	return p.client.Do(req)
}
