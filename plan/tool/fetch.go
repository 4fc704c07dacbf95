package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// FetchTool retrieves the body of a URL over HTTP GET.
//
// The target host must pass the scope's allowlist, and the body is
// truncated at the scope's read limit. Responses report whether
// truncation occurred so a model step can ask for a narrower resource.
//
// Arguments:
//
//	{"url": "https://docs.example.com/page"}
//
// Result:
//
//	{"url": "...", "status": 200, "body": "...", "truncated": false}
type FetchTool struct {
	client *http.Client
}

// FetchArgs is the argument payload for FetchTool.
type FetchArgs struct {
	URL string `json:"url"`
}

// FetchResult is the result payload for FetchTool.
type FetchResult struct {
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Body      string `json:"body"`
	Truncated bool   `json:"truncated"`
}

// NewFetchTool returns a FetchTool using the given HTTP client.
// A nil client gets a default with a 30-second timeout.
func NewFetchTool(client *http.Client) *FetchTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FetchTool{client: client}
}

// Name implements the Tool interface.
func (f *FetchTool) Name() string { return "fetch_url" }

// Call implements the Tool interface.
func (f *FetchTool) Call(ctx context.Context, args json.RawMessage, scope Scope) (json.RawMessage, error) {
	var in FetchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, &Error{Kind: KindInvalid, Tool: f.Name(), Message: "bad arguments: " + err.Error()}
	}
	if in.URL == "" {
		return nil, &Error{Kind: KindInvalid, Tool: f.Name(), Message: "url is required"}
	}

	u, err := url.Parse(in.URL)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Tool: f.Name(), Message: "bad url: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: KindInvalid, Tool: f.Name(), Message: "unsupported scheme: " + u.Scheme}
	}
	if err := scope.CheckHost(f.Name(), u.Hostname()); err != nil {
		return nil, err
	}

	if scope.DryRun {
		out := FetchResult{URL: in.URL}
		return json.Marshal(out)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Tool: f.Name(), Message: err.Error()}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Tool: f.Name(), Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Kind: KindTransient, Tool: f.Name(),
			Message: fmt.Sprintf("server returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: KindFailed, Tool: f.Name(),
			Message: fmt.Sprintf("server returned %d", resp.StatusCode)}
	}

	limit := scope.ReadLimit()
	// Read one byte past the limit to detect truncation.
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Tool: f.Name(), Message: "read body: " + err.Error()}
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	out := FetchResult{
		URL:       in.URL,
		Status:    resp.StatusCode,
		Body:      string(body),
		Truncated: truncated,
	}
	return json.Marshal(out)
}
