package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"gitpress/internal/config"
	"gitpress/internal/constants"
)

// Client issues the primitive operations of the remote tree/blob/commit/ref
// object store. The write credential stays inside the client and never
// crosses the trust boundary to callers.
type Client struct {
	api   string
	owner string
	repo  string
	token string
	http  *http.Client
}

func NewClient(cfg *config.Config) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.OutboundProxy != "" {
		proxyURL, err := url.Parse(cfg.OutboundProxy)
		if err != nil {
			return nil, fmt.Errorf("invalid outbound proxy address: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		api:   cfg.RemoteAPI,
		owner: cfg.RemoteOwner,
		repo:  cfg.RemoteRepo,
		token: cfg.RemoteToken,
		http: &http.Client{
			Timeout:   constants.RemoteCallTimeout,
			Transport: transport,
		},
	}, nil
}

// TreeEntry is one path-level mutation. Delete emits an explicit null content
// reference, which the store interprets as "remove this path".
type TreeEntry struct {
	Path    string
	Mode    string
	Type    string
	SHA     string
	Content string
	Delete  bool
}

func (e TreeEntry) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"path": e.Path,
		"mode": e.Mode,
		"type": e.Type,
	}
	switch {
	case e.Delete:
		m["sha"] = nil
	case e.SHA != "":
		m["sha"] = e.SHA
	default:
		m["content"] = e.Content
	}
	return json.Marshal(m)
}

func (c *Client) repoURL(format string, args ...interface{}) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s", c.api, c.owner, c.repo, fmt.Sprintf(format, args...))
}

func (c *Client) do(ctx context.Context, method, rawURL string, body interface{}) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("remote store unreachable: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read remote response: %w", err)
	}
	return res, data, nil
}

// checkStatus normalizes non-2xx responses into the error taxonomy.
func checkStatus(op string, res *http.Response) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusUnauthorized:
		return ErrRemoteUnauthorized
	case res.StatusCode == http.StatusUnprocessableEntity:
		return ErrSlowDown
	default:
		return &RemoteError{Op: op, Status: res.StatusCode}
	}
}

// GetRef returns the head commit sha of a ref such as "heads/main".
func (c *Client) GetRef(ctx context.Context, ref string) (string, error) {
	res, data, err := c.do(ctx, http.MethodGet, c.repoURL("git/ref/%s", url.PathEscape(ref)), nil)
	if err != nil {
		return "", err
	}
	if res.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("ref %s: %w", ref, ErrNotFound)
	}
	if err := checkStatus("get-ref", res); err != nil {
		return "", err
	}

	var out struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("malformed get-ref response: %w", err)
	}
	return out.Object.SHA, nil
}

// CreateBlob uploads content with the given encoding ("utf-8" or "base64")
// and returns the blob sha.
func (c *Client) CreateBlob(ctx context.Context, content, encoding string) (string, error) {
	body := map[string]string{"content": content, "encoding": encoding}
	res, data, err := c.do(ctx, http.MethodPost, c.repoURL("git/blobs"), body)
	if err != nil {
		return "", err
	}
	if err := checkStatus("create-blob", res); err != nil {
		return "", err
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("malformed create-blob response: %w", err)
	}
	return out.SHA, nil
}

// CreateTree layers the mutations on baseTree. Paths not mentioned are
// inherited from the base automatically.
func (c *Client) CreateTree(ctx context.Context, entries []TreeEntry, baseTree string) (string, error) {
	body := map[string]interface{}{"tree": entries}
	if baseTree != "" {
		body["base_tree"] = baseTree
	}
	res, data, err := c.do(ctx, http.MethodPost, c.repoURL("git/trees"), body)
	if err != nil {
		return "", err
	}
	if err := checkStatus("create-tree", res); err != nil {
		return "", err
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("malformed create-tree response: %w", err)
	}
	return out.SHA, nil
}

// CreateCommit records a commit pointing at tree with the given parents.
func (c *Client) CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	body := map[string]interface{}{"message": message, "tree": tree, "parents": parents}
	res, data, err := c.do(ctx, http.MethodPost, c.repoURL("git/commits"), body)
	if err != nil {
		return "", err
	}
	if err := checkStatus("create-commit", res); err != nil {
		return "", err
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("malformed create-commit response: %w", err)
	}
	return out.SHA, nil
}

// UpdateRef moves the ref to sha. Without force the store applies its
// fast-forward check and a concurrent advance surfaces as ErrConflict.
func (c *Client) UpdateRef(ctx context.Context, ref, sha string, force bool) error {
	body := map[string]interface{}{"sha": sha, "force": force}
	res, _, err := c.do(ctx, http.MethodPatch, c.repoURL("git/refs/%s", url.PathEscape(ref)), body)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusUnprocessableEntity || res.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	return checkStatus("update-ref", res)
}

// StatFile returns the file sha at path, or "" when the path does not exist.
// Absence is a normal result, not an error.
func (c *Client) StatFile(ctx context.Context, path, ref string) (string, error) {
	res, data, err := c.do(ctx, http.MethodGet, c.contentsURL(path, ref), nil)
	if err != nil {
		return "", err
	}
	if res.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err := checkStatus("stat-file", res); err != nil {
		return "", err
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("malformed stat-file response: %w", err)
	}
	return out.SHA, nil
}

// ReadTextFile fetches and decodes a text file at ref. The second return is
// false when the path is absent or is not a regular file.
func (c *Client) ReadTextFile(ctx context.Context, path, ref string) (string, bool, error) {
	res, data, err := c.do(ctx, http.MethodGet, c.contentsURL(path, ref), nil)
	if err != nil {
		return "", false, err
	}
	if res.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if err := checkStatus("read-file", res); err != nil {
		return "", false, err
	}

	var out struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		// Directory listings decode into an array, treat them as absent.
		return "", false, nil
	}
	if out.Type != "file" || out.Content == "" {
		return "", false, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(removeNewlines(out.Content))
	if err != nil {
		return "", false, fmt.Errorf("failed to decode file content: %w", err)
	}
	return string(decoded), true, nil
}

// ListFiles walks path recursively and returns every file path under it.
// An absent path yields an empty list.
func (c *Client) ListFiles(ctx context.Context, path, ref string) ([]string, error) {
	res, data, err := c.do(ctx, http.MethodGet, c.contentsURL(path, ref), nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		return []string{}, nil
	}
	if err := checkStatus("list-files", res); err != nil {
		return nil, err
	}

	var entries []struct {
		Type string `json:"type"`
		Path string `json:"path"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A single file decodes into an object rather than an array.
		var single struct {
			Type string `json:"type"`
			Path string `json:"path"`
		}
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("malformed list-files response: %w", err)
		}
		if single.Type == "file" {
			return []string{single.Path}, nil
		}
		return []string{}, nil
	}

	files := []string{}
	for _, entry := range entries {
		switch entry.Type {
		case "file":
			files = append(files, entry.Path)
		case "dir":
			nested, err := c.ListFiles(ctx, entry.Path, ref)
			if err != nil {
				return nil, err
			}
			files = append(files, nested...)
		}
	}
	return files, nil
}

// PutFile writes a single file through the contents API, carrying the
// existing sha when the path is already present.
func (c *Client) PutFile(ctx context.Context, path, contentBase64, message, branch string) error {
	existing, err := c.StatFile(ctx, path, branch)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"message": message,
		"content": contentBase64,
		"branch":  branch,
	}
	if existing != "" {
		body["sha"] = existing
	}

	res, _, err := c.do(ctx, http.MethodPut, c.repoURL("contents/%s", url.PathEscape(path)), body)
	if err != nil {
		return err
	}
	return checkStatus("put-file", res)
}

func (c *Client) contentsURL(path, ref string) string {
	return c.repoURL("contents/%s", url.PathEscape(path)) + "?ref=" + url.QueryEscape(ref)
}

func removeNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
