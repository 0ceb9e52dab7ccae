package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/qstation/qstation/internal/log"
)

// session owns the ephemeral SID for one client. The SID lives in memory
// only: absent at construction, populated lazily by the first protected
// request, cleared whenever the NAS rejects it.
type session struct {
	baseURL  string
	login    string
	password string

	// client performs the login POST itself; it uses the base transport so
	// login traffic never re-enters the session layer.
	client *http.Client

	mu     sync.RWMutex
	sid    string
	flight singleflight.Group
}

// SID returns the currently held session id, or "" when logged out.
func (s *session) SID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

// invalidate drops the held SID so the next protected request re-authenticates.
func (s *session) invalidate() {
	s.mu.Lock()
	s.sid = ""
	s.mu.Unlock()
	log.Debug("session").Msg("SID invalidated, will refresh on next request")
}

// ensure returns a valid SID, logging in on demand. Concurrent callers share
// a single in-flight login instead of each authenticating independently.
func (s *session) ensure(ctx context.Context) (string, error) {
	if sid := s.SID(); sid != "" {
		return sid, nil
	}

	v, err, _ := s.flight.Do("login", func() (any, error) {
		if sid := s.SID(); sid != "" {
			return sid, nil
		}
		return s.performLogin(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// performLogin posts the credentials (password base64-encoded) and extracts
// the SID from the JSON or legacy XML response.
func (s *session) performLogin(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("user", s.login)
	form.Set("pass", base64.StdEncoding.EncodeToString([]byte(s.password)))

	// The login outcome is shared by every waiter in the flight, so it must
	// not die with the first caller's context. The client timeout still
	// bounds the request.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost,
		s.baseURL+pathLogin, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("NAS login failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("NAS login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("NAS login failed: %s", resp.Status)
	}

	env := decodeEnvelope(resp.Header.Get("Content-Type"), resp.Body)
	if env.SID == "" {
		return "", fmt.Errorf("NAS login failed: no SID in response")
	}

	s.mu.Lock()
	s.sid = env.SID
	s.mu.Unlock()

	log.Debug("session").Str("user", env.User).Msg("login successful")
	return env.SID, nil
}

// sessionTransport wraps every outgoing request: unprotected routes pass
// through untouched; everything else gets a SID injected into its form body.
// A 401/403 response clears the SID and still surfaces to the caller.
type sessionTransport struct {
	base    http.RoundTripper
	session *session
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isUnprotected(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	sid, err := t.session.ensure(req.Context())
	if err != nil {
		return nil, err
	}

	injected, err := injectSID(req, sid)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(injected)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		t.session.invalidate()
	}
	return resp, nil
}

func isUnprotected(path string) bool {
	for _, p := range unprotectedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// injectSID rewrites the request body to carry the sid field. URL-encoded
// bodies get the field appended; multipart bodies are re-encoded part by
// part plus the sid. Requests matching neither shape pass through unmodified.
func injectSID(req *http.Request, sid string) (*http.Request, error) {
	contentType := req.Header.Get("Content-Type")

	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return injectFormSID(req, sid)
	case strings.Contains(contentType, "multipart/form-data"):
		return injectMultipartSID(req, contentType, sid)
	default:
		return req, nil
	}
}

func injectFormSID(req *http.Request, sid string) (*http.Request, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("rewrite form body: %w", err)
	}
	form.Set("sid", sid)
	return replaceBody(req, []byte(form.Encode()), req.Header.Get("Content-Type")), nil
}

func injectMultipartSID(req *http.Request, contentType, sid string) (*http.Request, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("rewrite multipart body: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("rewrite multipart body: missing boundary")
	}

	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	reader := multipart.NewReader(bytes.NewReader(body), boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rewrite multipart body: %w", err)
		}

		var dst io.Writer
		if part.FileName() != "" {
			dst, err = writer.CreateFormFile(part.FormName(), part.FileName())
		} else {
			dst, err = writer.CreateFormField(part.FormName())
		}
		if err != nil {
			return nil, fmt.Errorf("rewrite multipart body: %w", err)
		}
		if _, err := io.Copy(dst, part); err != nil {
			return nil, fmt.Errorf("rewrite multipart body: %w", err)
		}
	}

	if err := writer.WriteField("sid", sid); err != nil {
		return nil, fmt.Errorf("rewrite multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("rewrite multipart body: %w", err)
	}

	return replaceBody(req, buf.Bytes(), writer.FormDataContentType()), nil
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func replaceBody(req *http.Request, body []byte, contentType string) *http.Request {
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	out.Header.Set("Content-Type", contentType)
	return out
}
