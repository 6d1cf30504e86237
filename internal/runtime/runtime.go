// ABOUTME: Chat runtime that relays agent protocol requests to a remote agent endpoint
// ABOUTME: Streams the upstream response back unmodified through an http.Flusher

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coagent-demo/internal/metrics"
)

// ErrNoRemoteEndpoint indicates the runtime was built without a remote agent.
var ErrNoRemoteEndpoint = errors.New("no remote endpoint configured")

// RemoteEndpoint is a remote agent process reachable over HTTP.
type RemoteEndpoint struct {
	URL string
}

// Options configures a Runtime.
type Options struct {
	RemoteEndpoints []RemoteEndpoint

	// Client performs upstream requests. Defaults to a client without a
	// overall timeout, since responses are long-lived streams.
	Client *http.Client

	// RequestTimeout bounds one upstream request. Zero means no bound.
	RequestTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Runtime relays chat requests to its remote endpoint.
type Runtime struct {
	remote         *url.URL
	client         *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// New creates a Runtime. The first remote endpoint receives all traffic.
func New(opts Options) (*Runtime, error) {
	if len(opts.RemoteEndpoints) == 0 {
		return nil, ErrNoRemoteEndpoint
	}
	remote, err := url.Parse(opts.RemoteEndpoints[0].URL)
	if err != nil {
		return nil, fmt.Errorf("parsing remote endpoint: %w", err)
	}
	if remote.Scheme == "" || remote.Host == "" {
		return nil, fmt.Errorf("remote endpoint must be absolute: %q", opts.RemoteEndpoints[0].URL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Runtime{
		remote:         remote,
		client:         client,
		requestTimeout: opts.RequestTimeout,
		logger:         logger,
		metrics:        opts.Metrics,
	}, nil
}

// RemoteURL returns the remote endpoint URL.
func (rt *Runtime) RemoteURL() string {
	return rt.remote.String()
}

// Ping reports whether the remote agent answers HTTP at all. Any status
// code counts as reachable.
func (rt *Runtime) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rt.remote.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote agent unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Endpoint returns the handler mounted at path. Requests below path keep
// their sub-path when relayed (path/info -> remote/info).
func (rt *Runtime) Endpoint(path string, adapter ServiceAdapter) http.Handler {
	if adapter == nil {
		adapter = EmptyAdapter{}
	}
	return &endpoint{
		rt:      rt,
		path:    strings.TrimSuffix(path, "/"),
		adapter: adapter,
		logger:  rt.logger.With("endpoint", path, "adapter", adapter.Name()),
	}
}

type endpoint struct {
	rt      *Runtime
	path    string
	adapter ServiceAdapter
	logger  *slog.Logger
}

// hopHeaders are connection-scoped and never relayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

// upstreamURL joins the remote URL with the request sub-path and query.
func (e *endpoint) upstreamURL(r *http.Request) string {
	u := *e.rt.remote
	sub := strings.TrimPrefix(r.URL.Path, e.path)
	if sub != "" && sub != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(sub, "/")
	}
	if r.URL.RawQuery != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + r.URL.RawQuery
		} else {
			u.RawQuery = r.URL.RawQuery
		}
	}
	return u.String()
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "reading request body")
		return
	}

	ctx := r.Context()
	if e.rt.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.rt.requestTimeout)
		defer cancel()
	}

	target := e.upstreamURL(r)
	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		e.logger.Error("failed to build upstream request", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	copyHeaders(upReq.Header, r.Header)
	upReq.ContentLength = int64(len(body))

	if err := e.adapter.Prepare(ctx, upReq); err != nil {
		e.logger.Error("service adapter rejected request", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	start := time.Now()
	resp, err := e.rt.client.Do(upReq)
	if err != nil {
		e.logger.Warn("remote agent request failed", "url", target, "error", err)
		e.rt.metrics.RecordProxy(http.StatusBadGateway, time.Since(start), 0)
		sendJSONError(w, http.StatusBadGateway, "remote agent unavailable")
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	n, streamErr := e.stream(w, resp.Body)
	e.rt.metrics.RecordProxy(resp.StatusCode, time.Since(start), n)

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		e.logger.Warn("stream interrupted", "bytes", n, "error", streamErr)
		return
	}
	e.logger.Debug("relayed request",
		"url", target,
		"status", resp.StatusCode,
		"request_bytes", len(body),
		"response_bytes", n,
		"elapsed", time.Since(start))
}

// stream copies src to w chunk by chunk, flushing after each write so
// events reach the caller as soon as the agent emits them.
func (e *endpoint) stream(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
