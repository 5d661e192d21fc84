package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
)

// HTTPMirror is a read-only ROStore backed by a remote implementation
// cache reachable over plain HTTP. It supports range requests, so Open
// can be wrapped with store.NewReader to stream an implementation's
// manifest or archive without pulling the whole thing into memory first.
//
// Unlike COW, an HTTPMirror never writes anything anywhere: it is a
// read-only secondary store tier (spec.md §2B), used as a copy source by
// cmd/storemirror. Neither DirectoryStore nor the Fetcher consults it.
type HTTPMirror struct {
	client *http.Client
	host   string // "http://hostname:port"
	token  string // optional auth token sent on every request
	sizes  *sizecache
}

// NewHTTPMirror creates a mirror pointed at host, using token (if
// non-empty) as an X-Api-Key header on every request.
func NewHTTPMirror(host, token string) *HTTPMirror {
	return &HTTPMirror{
		host:   strings.TrimRight(host, "/"),
		token:  token,
		client: &http.Client{Timeout: 300 * time.Second},
		sizes:  newSizeCache(),
	}
}

var _ ROStore = &HTTPMirror{}

// List streams every digest key the mirror knows about.
func (m *HTTPMirror) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		resp, err := m.get(m.host + "/store/list")
		if err != nil {
			log.Println("HTTPMirror List:", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Printf("HTTPMirror List: unexpected status %d", resp.StatusCode)
			return
		}
		dec := json.NewDecoder(resp.Body)
		if _, err := dec.Token(); err != nil {
			return
		}
		for dec.More() {
			var s string
			if err := dec.Decode(&s); err != nil {
				return
			}
			out <- s
		}
	}()
	return out
}

// ListPrefix returns the digest keys on the mirror beginning with prefix.
func (m *HTTPMirror) ListPrefix(prefix string) ([]string, error) {
	resp, err := m.get(m.host + "/store/list/" + prefix)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTPMirror ListPrefix: status %d", resp.StatusCode)
	}
	var result []string
	dec := json.NewDecoder(resp.Body)
	err = dec.Decode(&result)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return result, nil
}

// Open returns a ranged reader for the implementation content stored
// under key, and its total size. The size is cached to cut down on HEAD
// requests when the same implementation is fetched piecemeal.
func (m *HTTPMirror) Open(key string) (ReadAtCloser, int64, error) {
	size, err := m.sizes.Get(key, m.stat)
	if err != nil {
		return nil, 0, err
	}
	return &httpRangeReader{client: m.client, url: m.host + "/store/open/" + key, token: m.token, size: size}, size, nil
}

func (m *HTTPMirror) stat(key string) (int64, error) {
	req, err := http.NewRequest(http.MethodHead, m.host+"/store/open/"+key, nil)
	if err != nil {
		return 0, err
	}
	m.addAuth(req)
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNotExist
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTPMirror stat %s: status %d", key, resp.StatusCode)
	}
	return resp.ContentLength, nil
}

func (m *HTTPMirror) addAuth(req *http.Request) {
	if m.token != "" {
		req.Header.Add("X-Api-Key", m.token)
	}
}

func (m *HTTPMirror) get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	m.addAuth(req)
	resp, err := m.client.Do(req)
	if err != nil {
		raven.CaptureError(err, map[string]string{"url": url})
	}
	return resp, err
}

// httpRangeReader implements io.ReaderAt by issuing a fresh ranged GET
// for every call. Unlike the S3 ReadAtCloser there is no page cache here:
// the mirror is a fallback path, not the hot path, so simplicity wins.
type httpRangeReader struct {
	client *http.Client
	url    string
	token  string
	size   int64
}

func (r *httpRangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	req, err := http.NewRequest(http.MethodGet, r.url, nil)
	if err != nil {
		return 0, err
	}
	if r.token != "" {
		req.Header.Add("X-Api-Key", r.token)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTPMirror ReadAt %s: status %d", r.url, resp.StatusCode)
	}
	return io.ReadFull(resp.Body, p[:end-off+1])
}

func (r *httpRangeReader) Close() error {
	return nil
}
