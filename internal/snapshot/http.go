// internal/snapshot/http.go
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sua-org/cam-gateway/internal/core"
)

const maxSnapshotBytes = 32 << 20

// HTTPEngine faz GET numa URL de imagem. Com Digest a primeira tentativa vai
// sem Authorization e o 401 traz o challenge; senão, Basic quando há
// usuário. O timeout vem do ctx, não do client.
type HTTPEngine struct {
	URL      string
	Username string
	Password string // já decifrada
	Digest   bool
	Client   *http.Client
}

func (e *HTTPEngine) Acquire(ctx context.Context) (*Image, error) {
	req, err := e.newRequest(ctx)
	if err != nil {
		return nil, err
	}
	if e.Username != "" && !e.Digest {
		req.SetBasicAuth(e.Username, e.Password)
	}

	resp, err := e.client().Do(req)
	if err != nil {
		return nil, err
	}
	if e.Digest && resp.StatusCode == http.StatusUnauthorized {
		if resp, err = e.retryDigest(ctx, resp); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", core.ErrFetchFailure, resp.StatusCode, string(b))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: snapshot vazio", core.ErrFetchFailure)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}
	return &Image{Data: data, ContentType: ct, CapturedAt: time.Now()}, nil
}

// retryDigest responde ao challenge do 401 com uma segunda requisição.
func (e *HTTPEngine) retryDigest(ctx context.Context, resp *http.Response) (*http.Response, error) {
	authHeader := resp.Header.Get("WWW-Authenticate")
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	digest, err := parseDigestAuthHeader(authHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFetchFailure, err)
	}
	req, err := e.newRequest(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", digest.authorization(req, e.Username, e.Password))
	return e.client().Do(req)
}

func (e *HTTPEngine) newRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	req.Header.Set("Connection", "keep-alive")
	return req, nil
}

func (e *HTTPEngine) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}
