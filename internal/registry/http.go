package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

const (
	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

	headerContentDigest = "Docker-Content-Digest"

	// manifests are small; anything past this is not a manifest
	maxManifestBytes = 4 << 20
)

var acceptManifest = strings.Join([]string{
	ocispec.MediaTypeImageManifest,
	mediaTypeDockerManifest,
	mediaTypeDockerManifestList,
	ocispec.MediaTypeImageIndex,
}, ", ")

type HTTPClientConfig struct {
	URL      string
	Username string
	Password string
	Client   *http.Client
}

// HTTPClient talks to a registry through the distribution v2 API.
type HTTPClient struct {
	base     *url.URL
	username string
	password string
	client   *http.Client
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	raw := strings.TrimRight(cfg.URL, "/")
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("registry url %q has no host", cfg.URL)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{base: base, username: cfg.Username, password: cfg.Password, client: client}, nil
}

// RepositoryPath maps a repository reference onto a path in this registry.
// "harbor.example.com/app/api", "https://harbor.example.com/app/api" and "app/api"
// all become "app/api" for a registry at harbor.example.com.
func (c *HTTPClient) RepositoryPath(repository string) (string, error) {
	repo := strings.TrimSpace(repository)
	if i := strings.Index(repo, "://"); i >= 0 {
		repo = repo[i+3:]
	}
	repo = strings.Trim(repo, "/")
	if host, rest, ok := strings.Cut(repo, "/"); ok && host == c.base.Host {
		repo = rest
	} else if ok && looksLikeHost(host) {
		return "", fmt.Errorf("repository %q is not hosted on %s", repository, c.base.Host)
	}
	named, err := reference.WithName(repo)
	if err != nil {
		return "", fmt.Errorf("invalid repository %q: %w", repository, err)
	}
	return named.Name(), nil
}

func looksLikeHost(s string) bool {
	return strings.ContainsAny(s, ".:") || s == "localhost"
}

// ManifestDigest tries HEAD first and falls back to GET when the HEAD request
// fails or the digest header is missing.
func (c *HTTPClient) ManifestDigest(ctx context.Context, repository, ref string) (string, error) {
	log := zerolog.Ctx(ctx)
	path, err := c.RepositoryPath(repository)
	if err != nil {
		return "", notFound(repository, ref, err)
	}
	endpoint := c.base.JoinPath("v2", path, "manifests", ref).String()

	d, status, err := c.head(ctx, endpoint)
	switch {
	case status == http.StatusNotFound:
		return "", notFound(repository, ref, fmt.Errorf("HEAD %s: %d", endpoint, status))
	case err == nil && d != "":
		return d, nil
	case err != nil:
		log.Debug().Err(err).Str("url", endpoint).Msg("manifest HEAD failed, fetching manifest")
	default:
		log.Debug().Str("url", endpoint).Msg("manifest HEAD returned no digest, fetching manifest")
	}

	d, status, err = c.get(ctx, endpoint)
	if status == http.StatusNotFound {
		return "", notFound(repository, ref, fmt.Errorf("GET %s: %d", endpoint, status))
	}
	if err != nil {
		return "", transient(repository, ref, err)
	}
	return d, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptManifest)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *HTTPClient) head(ctx context.Context, endpoint string) (string, int, error) {
	req, err := c.newRequest(ctx, http.MethodHead, endpoint)
	if err != nil {
		return "", 0, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", res.StatusCode, fmt.Errorf("HEAD %s: %s", endpoint, res.Status)
	}
	return headerDigest(res), res.StatusCode, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string) (string, int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return "", 0, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", res.StatusCode, fmt.Errorf("GET %s: %s", endpoint, res.Status)
	}
	if d := headerDigest(res); d != "" {
		return d, res.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxManifestBytes+1))
	if err != nil {
		return "", res.StatusCode, fmt.Errorf("read manifest: %w", err)
	}
	if len(body) == 0 || len(body) > maxManifestBytes || !json.Valid(body) {
		return "", res.StatusCode, errors.New("malformed manifest response")
	}
	return digest.SHA256.FromBytes(body).String(), res.StatusCode, nil
}

func headerDigest(res *http.Response) string {
	d := strings.TrimSpace(res.Header.Get(headerContentDigest))
	if IsDigest(d) {
		return d
	}
	return ""
}
