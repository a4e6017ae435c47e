package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// tokenSource fetches and caches client-credentials access tokens.
type tokenSource struct {
	pool        *Pool
	path        string
	headers     map[string]string
	body        []byte
	contentType string
	now         func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func basicAuth(user, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+secret))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// refresh a minute early so a token never expires mid-request
	if t.token != "" && t.now().Add(time.Minute).Before(t.expires) {
		return t.token, nil
	}

	resp, err := t.pool.Do(ctx, Request{
		Method:      fasthttp.MethodPost,
		Path:        t.path,
		Headers:     t.headers,
		Body:        t.body,
		ContentType: t.contentType,
	})
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("provider returned an empty access token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = 300
	}
	t.token = tr.AccessToken
	t.expires = t.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return t.token, nil
}

func (t *tokenSource) invalidate() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}
