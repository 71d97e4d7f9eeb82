package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// MFSMirror talks to the files API of an IPFS daemon (the MFS endpoints
// under /api/v0/files).
type MFSMirror struct {
	api    string
	client *http.Client
}

// NewMFSMirror creates a mirror client for the daemon API at api, e.g.
// "http://localhost:5001".
func NewMFSMirror(api string) *MFSMirror {
	return &MFSMirror{
		api:    api,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *MFSMirror) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := m.post(ctx, "files/stat", url.Values{"arg": {"/" + path}}, nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusInternalServerError:
		// The daemon reports a missing path as a 500 with a message body
		var apiErr struct {
			Message string `json:"Message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message == "file does not exist" {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: daemon error", path)
	default:
		return false, fmt.Errorf("stat %s: unexpected status %d", path, resp.StatusCode)
	}
}

func (m *MFSMirror) MkdirAll(ctx context.Context, path string) error {
	resp, err := m.post(ctx, "files/mkdir", url.Values{
		"arg":     {"/" + path},
		"parents": {"true"},
	}, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mkdir %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

func (m *MFSMirror) Add(ctx context.Context, path string, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "file")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := m.post(ctx, "files/write", url.Values{
		"arg":      {"/" + path},
		"create":   {"true"},
		"truncate": {"true"},
	}, &body, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("write %s: unexpected status %d", path, resp.StatusCode)
	}

	// files/write returns no body, so stat for the content id
	statResp, err := m.post(ctx, "files/stat", url.Values{"arg": {"/" + path}}, nil, "")
	if err != nil {
		return "", err
	}
	defer statResp.Body.Close()
	if statResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stat %s: unexpected status %d", path, statResp.StatusCode)
	}

	var stat struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(statResp.Body).Decode(&stat); err != nil {
		return "", fmt.Errorf("decoding stat response: %w", err)
	}
	return stat.Hash, nil
}

func (m *MFSMirror) post(ctx context.Context, endpoint string, params url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := fmt.Sprintf("%s/api/v0/%s?%s", m.api, endpoint, params.Encode())
	if body == nil {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return m.client.Do(req)
}
