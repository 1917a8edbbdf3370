// Package catalog talks to the remote media server's REST API. It is
// the only package that knows the wire format: every response is mapped
// into the normalized shapes in types.go immediately after decoding.
package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// ErrNoSession is returned when a streaming read cannot (re)establish a
// server session.
var ErrNoSession = errors.New("catalog: no server session")

// Client is a remote catalog client. Streaming reads go through a
// persistent connection pool; each scan opens its own session with a
// dedicated pool so bulk enumeration never queues behind interactive
// reads.
type Client struct {
	baseURL  string
	token    string
	clientID string
	timeout  time.Duration

	stream *http.Client

	mu       sync.Mutex
	serverID string

	log *slog.Logger
}

// NewClient creates a catalog client. streamConns sizes the persistent
// connection pool used by filesystem reads.
func NewClient(baseURL, token string, timeout time.Duration, streamConns int) *Client {
	if streamConns <= 0 {
		streamConns = 4
	}
	return &Client{
		baseURL:  baseURL,
		token:    token,
		clientID: newClientID(),
		timeout:  timeout,
		stream: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        streamConns,
				MaxIdleConnsPerHost: streamConns,
			},
		},
		log: slog.With("component", "catalog"),
	}
}

func newClientID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "plexmount-static"
	}
	return hex.EncodeToString(b[:])
}

// Wire format structs. The remote returns everything wrapped in a
// MediaContainer envelope.

type containerResponse struct {
	MediaContainer struct {
		MachineIdentifier string          `json:"machineIdentifier"`
		Directory         []wireDirectory `json:"Directory"`
		Metadata          []wireMetadata  `json:"Metadata"`
	} `json:"MediaContainer"`
}

type wireDirectory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type wireMetadata struct {
	RatingKey   string `json:"ratingKey"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Year        int    `json:"year"`
	Index       int    `json:"index"`
	ParentIndex int    `json:"parentIndex"`
	Media       []struct {
		Part []struct {
			Key  string `json:"key"`
			File string `json:"file"`
			Size int64  `json:"size"`
		} `json:"Part"`
	} `json:"Media"`
}

func (m *wireMetadata) mediaFile() *MediaFile {
	if len(m.Media) == 0 || len(m.Media[0].Part) == 0 {
		return nil
	}
	part := m.Media[0].Part[0]
	return &MediaFile{
		StreamKey: part.Key,
		Size:      part.Size,
		Ext:       path.Ext(part.File),
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", "plexmount")
	req.Header.Set("X-Plex-Device", runtime.GOOS)
	req.Header.Set("X-Plex-Platform", "Go")
}

func (c *Client) get(ctx context.Context, hc *http.Client, p string, query url.Values) (*containerResponse, error) {
	u := c.baseURL + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: %s returned %s", p, resp.Status)
	}

	var out containerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", p, err)
	}
	return &out, nil
}

// ServerID returns the remote server's machine identifier, fetching and
// caching it on first use. The cached value doubles as the streaming
// session handle: Invalidate drops it and the next call reconnects.
func (c *Client) ServerID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverID != "" {
		return c.serverID, nil
	}
	out, err := c.get(ctx, c.stream, "/identity", nil)
	if err != nil {
		return "", fmt.Errorf("catalog: identity: %w", err)
	}
	c.serverID = out.MediaContainer.MachineIdentifier
	c.log.Info("server session established", "server_id", c.serverID)
	return c.serverID, nil
}

// Invalidate drops the cached server session. The next streaming read
// reconnects lazily.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.serverID = ""
	c.mu.Unlock()
	if t, ok := c.stream.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	c.log.Warn("server session invalidated")
}

// ReadRange fetches len(p) bytes at offset off for the given stream key
// over the persistent streaming pool. A short read at end of file
// returns io.EOF alongside the byte count. Any transport or status
// failure invalidates the session and is surfaced to the caller; the
// read is not retried here.
func (c *Client) ReadRange(ctx context.Context, streamKey string, p []byte, off int64) (int, error) {
	if _, err := c.ServerID(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+streamKey, nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	resp, err := c.stream.Do(req)
	if err != nil {
		c.Invalidate()
		return 0, fmt.Errorf("catalog: range read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		c.Invalidate()
		return 0, fmt.Errorf("catalog: range read returned %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF || (err == io.EOF && n > 0) {
		return n, io.EOF
	}
	if err != nil && err != io.EOF {
		c.Invalidate()
		return n, fmt.Errorf("catalog: range body: %w", err)
	}
	return n, nil
}

// Connect opens a scan session on its own connection pool and verifies
// the server is reachable. The session must be closed when the scan
// ends.
func (c *Client) Connect(ctx context.Context) (*ScanSession, error) {
	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
	}
	s := &ScanSession{
		client:    c,
		transport: transport,
		http: &http.Client{
			Timeout:   c.timeout,
			Transport: transport,
		},
	}
	out, err := c.get(ctx, s.http, "/identity", nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	c.log.Info("scan session established",
		"server_id", out.MediaContainer.MachineIdentifier)
	return s, nil
}

// ScanSession is a catalog connection dedicated to one scan.
type ScanSession struct {
	client    *Client
	transport *http.Transport
	http      *http.Client
}

// Close releases the session's connections. Idempotent.
func (s *ScanSession) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

// Libraries lists the movie and show sections of the catalog. Sections
// of other kinds are dropped here.
func (s *ScanSession) Libraries(ctx context.Context) ([]Library, error) {
	out, err := s.client.get(ctx, s.http, "/library/sections", nil)
	if err != nil {
		return nil, err
	}
	var libs []Library
	for _, d := range out.MediaContainer.Directory {
		kind := LibraryKind(d.Type)
		if kind != LibraryMovies && kind != LibraryShows {
			continue
		}
		libs = append(libs, Library{Key: d.Key, Title: d.Title, Kind: kind})
	}
	return libs, nil
}

// Items fetches one page of a library's items. An empty result means
// the library is exhausted.
func (s *ScanSession) Items(ctx context.Context, libraryKey string, start, size int) ([]Item, error) {
	query := url.Values{}
	query.Set("X-Plex-Container-Start", strconv.Itoa(start))
	query.Set("X-Plex-Container-Size", strconv.Itoa(size))

	out, err := s.client.get(ctx, s.http, "/library/sections/"+libraryKey+"/all", query)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(out.MediaContainer.Metadata))
	for _, m := range out.MediaContainer.Metadata {
		kind := ItemKind(m.Type)
		if kind != ItemMovie && kind != ItemShow {
			continue
		}
		items = append(items, Item{
			Kind:  kind,
			Key:   m.RatingKey,
			Title: m.Title,
			Year:  m.Year,
			File:  m.mediaFile(),
		})
	}
	return items, nil
}

// Episodes fetches all leaves of a show. Episodes without a resolved
// media part come back with a nil File.
func (s *ScanSession) Episodes(ctx context.Context, showKey string) ([]Episode, error) {
	out, err := s.client.get(ctx, s.http, "/library/metadata/"+showKey+"/allLeaves", nil)
	if err != nil {
		return nil, err
	}

	eps := make([]Episode, 0, len(out.MediaContainer.Metadata))
	for _, m := range out.MediaContainer.Metadata {
		eps = append(eps, Episode{
			Season: m.ParentIndex,
			Number: m.Index,
			Title:  m.Title,
			File:   m.mediaFile(),
		})
	}
	return eps, nil
}
