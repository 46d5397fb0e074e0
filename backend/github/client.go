package github

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/juju/errors"
)

// githubAPIVersion pins the REST API version header.
const githubAPIVersion = "2022-11-28"

// defaultBaseURL is the base URL for the public GitHub API.
const defaultBaseURL = "https://api.github.com"

// maxResponseSize bounds a single response body.
const maxResponseSize = 32 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to
	// "https://api.github.com". Must use HTTPS.
	BaseURL string

	// Token is a personal access token or fine-grained token.
	Token string

	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	// Set its Timeout to bound a single call.
	HTTPClient *http.Client

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a token-authenticated GitHub REST client returning raw
// decoded JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a Client. Returns an error for a missing token or a
// non-HTTPS base URL.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, errors.NotValidf("github: API base URL %q (HTTPS required)", baseURL)
	}
	if config.Token == "" {
		return nil, errors.NotValidf("github: empty access token")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		token:      config.Token,
	}, nil
}

// get performs an authenticated GET of path (relative to the base URL)
// and decodes the JSON body into an untyped value.
func (client *Client) get(ctx context.Context, path string) (any, error) {
	response, err := client.doRaw(ctx, http.MethodGet, client.baseURL+path)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, parseAPIError(response)
	}
	var result any
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseSize)).Decode(&result); err != nil {
		return nil, errors.Annotatef(err, "github: decoding %s", path)
	}
	return result, nil
}

// doRaw executes an authenticated request. The caller closes the body.
func (client *Client) doRaw(ctx context.Context, method, url string) (*http.Response, error) {
	token := client.currentToken()
	if token == "" {
		return nil, errors.New("github: client logged out")
	}

	request, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, errors.Annotate(err, "github: creating request")
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)

	client.logger.Debug("github request", "method", method, "url", url)
	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, errors.Annotatef(err, "github: %s %s", method, url)
	}
	return response, nil
}

func (client *Client) currentToken() string {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.token
}

// Logout forgets the token. GitHub tokens are stateless on the server,
// so there is nothing to revoke remotely.
func (client *Client) Logout(context.Context) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.token = ""
	return nil
}
