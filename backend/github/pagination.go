package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/juju/errors"
)

// maxPages bounds how many pages collect follows for one listing.
const maxPages = 100

// collect fetches every page of a list endpoint, following rel="next"
// Link headers, and concatenates the items. Next links must stay under
// the API base URL, since the token is sent with every page. A link
// already visited ends the listing.
func (client *Client) collect(ctx context.Context, path string) ([]any, error) {
	all := []any{}
	seen := map[string]bool{}
	nextURL := client.baseURL + path
	for pages := 0; nextURL != "" && !seen[nextURL]; pages++ {
		if pages == maxPages {
			return nil, errors.Errorf("github: listing %s exceeds %d pages", path, maxPages)
		}
		if !strings.HasPrefix(nextURL, client.baseURL+"/") {
			return nil, errors.NotValidf("github: next page %q outside %s", nextURL, client.baseURL)
		}
		seen[nextURL] = true
		items, next, err := client.page(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		nextURL = next
	}
	return all, nil
}

func (client *Client) page(ctx context.Context, url string) ([]any, string, error) {
	response, err := client.doRaw(ctx, http.MethodGet, url)
	if err != nil {
		return nil, "", err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", parseAPIError(response)
	}

	var items []any
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseSize)).Decode(&items); err != nil {
		return nil, "", errors.Annotatef(err, "github: decoding page %s", url)
	}
	return items, parseLinkNext(response.Header.Get("Link")), nil
}

// parseLinkNext extracts the rel="next" URL from an RFC 5988 Link header.
//
// Format: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.SplitN(strings.TrimSpace(part), ";", 2)
		if len(segments) != 2 {
			continue
		}
		urlPart := strings.TrimSpace(segments[0])
		if !strings.Contains(segments[1], `rel="next"`) {
			continue
		}
		if strings.HasPrefix(urlPart, "<") && strings.HasSuffix(urlPart, ">") {
			return urlPart[1 : len(urlPart)-1]
		}
	}
	return ""
}
