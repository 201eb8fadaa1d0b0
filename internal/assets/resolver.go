package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// Observer receives one call per resolve attempt that touched the network.
// result is "ok" or "fallback".
type Observer interface {
	AssetFetched(result string)
}

// Options configures a Resolver.
type Options struct {
	// ProxyURL is the same-origin image proxy, e.g. "https://school.example/api/proxy-image".
	// When empty the source URL is fetched directly.
	ProxyURL  string
	Timeout   time.Duration
	Retries   int
	MaxBytes  int64
	// MaxSide bounds the decoded image; larger images are downscaled before embedding.
	MaxSide   int
	Encoding  Encoding
	UserAgent string
}

// Resolver turns remote image URLs into embeddable assets. It is stateless per call;
// deduplication within a batch is BatchCache's job.
type Resolver struct {
	client *resty.Client
	opts   Options
	log    *zap.Logger
	obs    Observer
}

// NewResolver builds a resolver. log and obs may be nil.
func NewResolver(opts Options, log *zap.Logger, obs Observer) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 8 << 20
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = 600
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "cardexport/1.0"
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "image/*")
	return &Resolver{client: client, opts: opts, log: log, obs: obs}
}

// Close releases idle connections.
func (r *Resolver) Close() error {
	return r.client.Close()
}

// Resolve fetches and re-encodes the image at rawURL. It never fails: an empty URL returns nil
// without any network call, and every fetch or decode error is logged and turned into nil so the
// caller renders its placeholder.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) *Asset {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	asset, err := r.fetch(ctx, rawURL)
	if err != nil {
		r.log.Warn("asset fallback to placeholder", zap.String("url", rawURL), zap.Error(err))
		r.observe("fallback")
		return nil
	}
	r.observe("ok")
	return asset
}

func (r *Resolver) observe(result string) {
	if r.obs != nil {
		r.obs.AssetFetched(result)
	}
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (*Asset, error) {
	target, err := ProxiedURL(r.opts.ProxyURL, rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode())
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > r.opts.MaxBytes {
		return nil, errors.New("read image: payload exceeds size limit")
	}
	return FromBytes(rawURL, body, r.opts.MaxSide, r.opts.Encoding)
}

// ProxiedURL builds "<proxy>?url=<percent-encoded source>". With an empty proxy the source is returned
// after checking it is an absolute http(s) URL.
func ProxiedURL(proxy, source string) (string, error) {
	src, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	if (src.Scheme != "http" && src.Scheme != "https") || src.Host == "" {
		return "", fmt.Errorf("image url %q is not an absolute http(s) URL", source)
	}
	if proxy == "" {
		return source, nil
	}
	p, err := url.Parse(proxy)
	if err != nil {
		return "", fmt.Errorf("parse proxy url: %w", err)
	}
	q := p.Query()
	q.Set("url", source)
	p.RawQuery = q.Encode()
	return p.String(), nil
}
