package manager

import (
	"context"
	"sort"

	"github.com/juju/errors"

	"conn-proxy/backend"
)

var builtins = map[string]DirectFunc{
	"org_repos": orgRepos,
	"whoami":    whoami,
}

// orgRepos looks the organization up, lists its repositories and returns
// "<org>/<repo>" names sorted ascending.
func orgRepos(ctx context.Context, adapter backend.Adapter, args backend.Arguments) (any, error) {
	name, err := args.RequiredString(0, "org")
	if err != nil {
		return nil, err
	}

	org, err := adapter.Call(ctx, "get_organization", backend.NewArguments(nil, map[string]any{"org": name}))
	if err != nil {
		return nil, err
	}
	login := name
	if fields, ok := org.(map[string]any); ok {
		if l, ok := fields["login"].(string); ok && l != "" {
			login = l
		}
	}

	raw, err := adapter.Call(ctx, "get_organization_repos", backend.NewArguments(nil, map[string]any{"org": login}))
	if err != nil {
		return nil, err
	}
	repos, ok := raw.([]any)
	if !ok {
		return nil, errors.Errorf("unexpected repository listing of type %T", raw)
	}

	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		fields, ok := repo.(map[string]any)
		if !ok {
			return nil, errors.Errorf("unexpected repository entry of type %T", repo)
		}
		repoName, _ := fields["name"].(string)
		if repoName == "" {
			return nil, errors.New("repository entry without a name")
		}
		names = append(names, login+"/"+repoName)
	}
	sort.Strings(names)
	return names, nil
}

// whoami returns the login of the authenticated user.
func whoami(ctx context.Context, adapter backend.Adapter, _ backend.Arguments) (any, error) {
	user, err := adapter.Call(ctx, "get_user", backend.Arguments{})
	if err != nil {
		return nil, err
	}
	fields, ok := user.(map[string]any)
	if !ok {
		return nil, errors.Errorf("unexpected user document of type %T", user)
	}
	login, _ := fields["login"].(string)
	if login == "" {
		return nil, errors.New("user document without a login")
	}
	return login, nil
}
