// Package github adapts the GitHub REST API to the backend.Adapter
// contract. Each supported operation is an entry in a fixed table keyed by
// name; results are the decoded JSON documents exactly as GitHub returns
// them.
package github

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"

	"conn-proxy/backend"
	"conn-proxy/proxyerr"
)

// operation is one named entry on the capability surface.
type operation func(ctx context.Context, client *Client, args backend.Arguments) (any, error)

var operations = map[string]operation{
	"get_user": func(ctx context.Context, client *Client, args backend.Arguments) (any, error) {
		login, err := args.OptionalString(0, "login")
		if err != nil {
			return nil, err
		}
		if login == "" {
			return client.get(ctx, "/user")
		}
		return client.get(ctx, "/users/"+url.PathEscape(login))
	},
	"get_organization": func(ctx context.Context, client *Client, args backend.Arguments) (any, error) {
		org, err := args.RequiredString(0, "org")
		if err != nil {
			return nil, err
		}
		return client.get(ctx, "/orgs/"+url.PathEscape(org))
	},
	"get_organization_repos": func(ctx context.Context, client *Client, args backend.Arguments) (any, error) {
		org, err := args.RequiredString(0, "org")
		if err != nil {
			return nil, err
		}
		return client.collect(ctx, "/orgs/"+url.PathEscape(org)+"/repos?per_page=100")
	},
	"get_repo": func(ctx context.Context, client *Client, args backend.Arguments) (any, error) {
		fullName, err := args.RequiredString(0, "full_name")
		if err != nil {
			return nil, err
		}
		owner, name, ok := strings.Cut(fullName, "/")
		if !ok || owner == "" || name == "" {
			return nil, errors.NotValidf("repository name %q (want owner/name)", fullName)
		}
		return client.get(ctx, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name))
	},
	"get_user_repos": func(ctx context.Context, client *Client, args backend.Arguments) (any, error) {
		login, err := args.OptionalString(0, "login")
		if err != nil {
			return nil, err
		}
		if login == "" {
			return client.collect(ctx, "/user/repos?per_page=100")
		}
		return client.collect(ctx, "/users/"+url.PathEscape(login)+"/repos?per_page=100")
	},
	"get_rate_limit": func(ctx context.Context, client *Client, _ backend.Arguments) (any, error) {
		return client.get(ctx, "/rate_limit")
	},
}

// Methods lists the operation names this adapter supports.
func Methods() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter is the backend.Adapter over a Client.
type Adapter struct {
	client *Client
}

// NewAdapter wraps an existing Client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// Call runs the named operation. Unknown names fail with
// proxyerr.ErrUnsupportedMethod; GitHub and argument errors are wrapped in
// a *proxyerr.RemoteCallError. Transport errors caused by ctx expiring are
// returned as they are so the caller can tell a timeout apart.
func (a *Adapter) Call(ctx context.Context, method string, args backend.Arguments) (any, error) {
	op, ok := operations[method]
	if !ok {
		return nil, errors.Annotatef(proxyerr.ErrUnsupportedMethod, "github has no method %q", method)
	}
	result, err := op(ctx, a.client, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Annotatef(ctx.Err(), "github %s", method)
		}
		return nil, proxyerr.WrapRemoteCall(method, err)
	}
	return result, nil
}

// Logout releases the adapter's token.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// FactoryConfig configures adapters produced by NewFactory.
type FactoryConfig struct {
	BaseURL        string
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// NewFactory returns a backend.Factory that builds GitHub adapters for a
// token. Nothing touches the network until the first call.
func NewFactory(config FactoryConfig) backend.Factory {
	return func(_ context.Context, credentials string) (backend.Adapter, error) {
		client, err := NewClient(Config{
			BaseURL:    config.BaseURL,
			Token:      credentials,
			HTTPClient: &http.Client{Timeout: config.CommandTimeout},
			Logger:     config.Logger,
		})
		if err != nil {
			return nil, errors.Annotatef(proxyerr.ErrBackendUnavailable, "%v", err)
		}
		return NewAdapter(client), nil
	}
}
