package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// WebDAVStore implements Store against a WebDAV server, e.g., nginx with the
// dav module enabled. Keys map to paths under the configured endpoint.
type WebDAVStore struct {
	endpoint string
	username string
	password string
	client   *http.Client
}

func NewWebDAVStore(endpoint, username, password string, client *http.Client) *WebDAVStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebDAVStore{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		username: username,
		password: password,
		client:   client,
	}
}

func (s *WebDAVStore) Put(key string, value []byte) (err error) {
	status, body, err := s.do(http.MethodPut, s.pathFor(key), value)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		// Missing parent collection.
		if err := s.mkcols(key); err != nil {
			return err
		}
		status, body, err = s.do(http.MethodPut, s.pathFor(key), value)
		if err != nil {
			return err
		}
	}
	if !isSuccess(status) {
		return fmt.Errorf("%.40q: put: %d %s", key, status, body)
	}
	return nil
}

func (s *WebDAVStore) Get(key string) (value []byte, err error) {
	status, body, err := s.do(http.MethodGet, s.pathFor(key), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%.40q: get: %d %s", key, status, body)
	}
	return body, nil
}

func (s *WebDAVStore) Delete(key string) (err error) {
	status, body, err := s.do(http.MethodDelete, s.pathFor(key), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	if !isSuccess(status) {
		return fmt.Errorf("%.40q: delete: %d %s", key, status, body)
	}
	return nil
}

func (s *WebDAVStore) mkcols(key string) error {
	parts := strings.Split(key, "/")
	for i := 1; i < len(parts); i++ {
		url := s.pathFor(strings.Join(parts[:i], "/")) + "/"
		status, body, err := s.do("MKCOL", url, nil)
		if err != nil {
			return err
		}
		// 405 means the collection exists already.
		if !isSuccess(status) && status != http.StatusMethodNotAllowed {
			return fmt.Errorf("%q: mkcol: %d %s", url, status, body)
		}
	}
	return nil
}

func (s *WebDAVStore) do(method string, url string, value []byte) (status int, body []byte, err error) {
	var reader io.Reader
	if value != nil {
		reader = bytes.NewReader(value)
	}
	request, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	if method == http.MethodPut && value == nil {
		request.Body = http.NoBody
		request.ContentLength = 0
	}
	if s.username != "" {
		request.SetBasicAuth(s.username, s.password)
	}
	response, err := s.client.Do(request)
	if response != nil && response.Body != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}
	if err != nil {
		return 0, nil, err
	}
	body, err = io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return response.StatusCode, body, nil
}

func (s *WebDAVStore) pathFor(key string) string {
	return fmt.Sprintf("%s/%s", s.endpoint, key)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
