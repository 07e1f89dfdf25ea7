// Package lobby implements the outbound HTTP directory announcements: the
// relay treats the lobby as a black-box http_get(url, basic_auth) -> body,
// but this module still has to build the request correctly and serialise
// access to the shared client.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// userAgent is preserved verbatim for server-side log-format compatibility
// with existing lobby deployments (originally a libcurl user agent string).
const userAgent = "libcurl-agent/1.0"

const basicAuthUser, basicAuthPass = "room", "room"

// ErrLobbyFailed is returned when the lobby responds with a non-2xx status
// or a non-empty body (the directory's convention for "rejected").
var ErrLobbyFailed = errors.New("lobby: request failed")

// Client issues announce/latency-report GET requests to a lobby directory.
// The underlying *http.Client is not safe for the kind of concurrent
// reconfiguration this server might want, so all access is serialised.
type Client struct {
	mu sync.Mutex
	hc *http.Client
}

// New creates a lobby client that resolves and dials IPv4 only, matching the
// reference implementation's CURLOPT_IPRESOLVE=CURL_IPRESOLVE_V4.
func New(timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &Client{
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.DialContext(ctx, "tcp4", addr)
				},
			},
		},
	}
}

// AnnounceParams describes a room-announce request.
type AnnounceParams struct {
	Port         int
	Name         string
	Pin          uint32
	ServerJitter float64 // milliseconds, one decimal place on the wire
	Group        string
	Version      string
	Empty        bool
}

// Announce registers (or re-registers) the room with the lobby.
func (c *Client) Announce(ctx context.Context, base string, p AnnounceParams) error {
	q := url.Values{}
	q.Set("port", strconv.Itoa(p.Port))
	q.Set("name", p.Name)
	q.Set("pin", strconv.FormatUint(uint64(p.Pin), 10))
	q.Set("srvjit", strconv.FormatFloat(p.ServerJitter, 'f', 1, 64))
	q.Set("grp", p.Group)
	q.Set("version", p.Version)
	if p.Empty {
		q.Set("empty", "1")
	}
	return c.get(ctx, base, q)
}

// LatencyParams describes a single latency-report request.
type LatencyParams struct {
	Port  int
	Src   uint8
	Dest  uint8
	LatMS float64
	JitMS float64
}

// ReportLatency uploads one queued latency sample.
func (c *Client) ReportLatency(ctx context.Context, base string, p LatencyParams) error {
	q := url.Values{}
	q.Set("latreport", strconv.Itoa(p.Port))
	q.Set("src", strconv.Itoa(int(p.Src)))
	q.Set("dest", strconv.Itoa(int(p.Dest)))
	q.Set("lat", strconv.FormatFloat(p.LatMS, 'f', 1, 64))
	q.Set("jit", strconv.FormatFloat(p.JitMS, 'f', 1, 64))
	return c.get(ctx, base, q)
}

func (c *Client) get(ctx context.Context, base string, q url.Values) error {
	u := base
	if q.Encode() != "" {
		sep := "?"
		if len(u) > 0 && (u[len(u)-1] == '?' || u[len(u)-1] == '&') {
			sep = ""
		}
		u += sep + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(basicAuthUser, basicAuthPass)
	req.Header.Set("User-Agent", userAgent)

	c.mu.Lock()
	resp, err := c.hc.Do(req)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLobbyFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrLobbyFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrLobbyFailed, resp.StatusCode)
	}
	if len(body) != 0 {
		return fmt.Errorf("%w: non-empty response body", ErrLobbyFailed)
	}
	return nil
}
