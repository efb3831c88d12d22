// Package cloudfolder uploads edition files into per-recipient folders on a
// Graph-style personal drive. Folder paths are created on demand and large
// payloads fall back to a chunked upload session.
package cloudfolder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pressbote/pressbote/internal/fault"
)

var (
	errNotFound = errors.New("item not found")
	errConflict = errors.New("name already in use")
)

const (
	// simpleUploadLimit is the largest payload sent as a single PUT; anything
	// bigger goes through an upload session.
	simpleUploadLimit = 4 << 20
	// sessionChunkSize is a multiple of the 320 KiB granularity the upload
	// session API requires.
	sessionChunkSize = 10 * 320 * 1024
)

// Drive is a personal cloud drive addressed by folder paths. Implemented by
// *Client; callers hold a nil Drive when no cloud destination is configured.
type Drive interface {
	EnsureFolderPath(ctx context.Context, folderPath string) (string, error)
	Upload(ctx context.Context, folderID, name string, data []byte) (string, error)
}

// Client talks to a Graph-style drive API with a refresh-token credential.
// It is not safe for concurrent use; runs are single-threaded.
type Client struct {
	driveURL     string
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	http         *http.Client

	token       string
	tokenExpiry time.Time
}

// New creates a drive client. The access token is fetched lazily on the
// first call and refreshed when it nears expiry.
func New(driveURL, tokenURL, clientID, clientSecret, refreshToken string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		driveURL:     strings.TrimRight(driveURL, "/"),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		http:         &http.Client{Timeout: timeout},
	}
}

// driveItem is the subset of the item resource the uploader needs.
type driveItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
}

// EnsureFolderPath walks the folder path segment by segment, creating what
// is missing, and returns the id of the final folder.
func (c *Client) EnsureFolderPath(ctx context.Context, folderPath string) (string, error) {
	parentID := "root"
	built := ""
	for _, segment := range strings.Split(folderPath, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		built = path.Join(built, segment)

		item, found, err := c.itemByPath(ctx, built)
		if err != nil {
			return "", err
		}
		if !found {
			item, err = c.createFolder(ctx, parentID, segment)
			if errors.Is(err, errConflict) {
				// Created by a concurrent writer between lookup and create.
				item, found, err = c.itemByPath(ctx, built)
				if err == nil && !found {
					err = fmt.Errorf("folder %q reported as existing but not resolvable", built)
				}
			}
			if err != nil {
				return "", fmt.Errorf("creating folder %q: %w", built, err)
			}
		}
		parentID = item.ID
	}
	if parentID == "root" {
		return "", fmt.Errorf("empty folder path %q", folderPath)
	}
	return parentID, nil
}

// Upload puts one file into the folder and returns its web URL. An existing
// file of the same name is replaced, which keeps retries idempotent.
func (c *Client) Upload(ctx context.Context, folderID, name string, data []byte) (string, error) {
	if len(data) <= simpleUploadLimit {
		return c.uploadSimple(ctx, folderID, name, data)
	}
	return c.uploadSession(ctx, folderID, name, data)
}

func (c *Client) uploadSimple(ctx context.Context, folderID, name string, data []byte) (string, error) {
	uploadURL := fmt.Sprintf("%s/items/%s:/%s:/content", c.driveURL, folderID, url.PathEscape(name))

	var item driveItem
	if err := c.doJSON(ctx, http.MethodPut, uploadURL, "application/octet-stream", bytes.NewReader(data), &item); err != nil {
		return "", fmt.Errorf("uploading %q: %w", name, err)
	}
	return item.WebURL, nil
}

func (c *Client) uploadSession(ctx context.Context, folderID, name string, data []byte) (string, error) {
	sessionURL := fmt.Sprintf("%s/items/%s:/%s:/createUploadSession", c.driveURL, folderID, url.PathEscape(name))
	body := strings.NewReader(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`)

	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := c.doJSON(ctx, http.MethodPost, sessionURL, "application/json", body, &session); err != nil {
		return "", fmt.Errorf("creating upload session for %q: %w", name, err)
	}
	if session.UploadURL == "" {
		return "", fmt.Errorf("upload session for %q without url", name)
	}

	total := len(data)
	var item driveItem
	for start := 0; start < total; start += sessionChunkSize {
		end := start + sessionChunkSize
		if end > total {
			end = total
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(data[start:end]))
		if err != nil {
			return "", err
		}
		// The session URL is pre-authorized; no bearer token on chunk PUTs.
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))

		resp, err := c.http.Do(req)
		if err != nil {
			return "", &fault.TransientError{Op: "chunk upload", Err: err}
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("chunk %d-%d of %q: status %s", start, end-1, name, resp.Status)
		}
		if end == total {
			if err := json.Unmarshal(respBody, &item); err != nil {
				return "", fmt.Errorf("decoding final chunk response for %q: %w", name, err)
			}
		}
	}
	return item.WebURL, nil
}

// itemByPath resolves a drive item by its root-relative path.
func (c *Client) itemByPath(ctx context.Context, itemPath string) (driveItem, bool, error) {
	var item driveItem
	err := c.doJSON(ctx, http.MethodGet, c.driveURL+"/root:/"+escapePath(itemPath), "", nil, &item)
	if errors.Is(err, errNotFound) {
		return driveItem{}, false, nil
	}
	if err != nil {
		return driveItem{}, false, err
	}
	return item, true, nil
}

func (c *Client) createFolder(ctx context.Context, parentID, name string) (driveItem, error) {
	childrenURL := c.driveURL + "/root/children"
	if parentID != "root" {
		childrenURL = fmt.Sprintf("%s/items/%s/children", c.driveURL, parentID)
	}

	payload, _ := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	})

	var item driveItem
	if err := c.doJSON(ctx, http.MethodPost, childrenURL, "application/json", bytes.NewReader(payload), &item); err != nil {
		return driveItem{}, err
	}
	return item, nil
}

// doJSON performs one authenticated request and decodes a JSON response
// into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, method, reqURL, contentType string, body io.Reader, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &fault.TransientError{Op: "drive request", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Token may have been revoked between refreshes; next run re-auths.
		c.token = ""
		return &fault.AuthError{Service: "cloud drive"}
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusConflict:
		return errConflict
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %s: %s", method, reqURL, resp.Status, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response of %s: %w", reqURL, err)
	}
	return nil
}

// accessToken returns a cached token or refreshes it through the token
// endpoint.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"refresh_token": {c.refreshToken},
		"grant_type":    {"refresh_token"},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &fault.TransientError{Op: "token refresh", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return "", &fault.AuthError{Service: "cloud drive", Err: fmt.Errorf("token endpoint status %s", resp.Status)}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token endpoint status %s", resp.Status)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", &fault.AuthError{Service: "cloud drive", Err: fmt.Errorf("token endpoint returned no access token")}
	}

	c.token = tok.AccessToken
	// Refresh a minute early so in-flight requests never race expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return c.token, nil
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
