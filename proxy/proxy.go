// Package proxy routes browser traffic to preview dev servers.
//
// Each session is mounted under /preview/<id>/; the prefix is stripped and
// the rest of the path forwarded to the session's backend on loopback.
// Dev servers emit absolute asset URLs that escape the prefix, so requests
// that arrive without one are re-homed by inspecting the Referer header.
// WebSocket upgrades (vite HMR, next hot reload) are hijacked and relayed
// as raw TCP in both directions.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"

	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/registry"
)

// ErrProxyTargetMissing is returned when a request names a session id not
// present in the registry.
var ErrProxyTargetMissing = errors.New("no live session for id")

// Prefix is the URL prefix under which sessions are mounted.
const Prefix = "/preview/"

var sessionPathRe = regexp.MustCompile(`^/preview/([A-Za-z0-9-]+)(/.*)?$`)

// Router forwards /preview/<id>/ traffic to the matching session backend.
type Router struct {
	Store *registry.Store
}

// NewRouter creates a proxy router over the session store.
func NewRouter(store *registry.Store) *Router {
	return &Router{Store: store}
}

// ServeHTTP handles a request under the /preview/ mount. Unknown ids get
// an immediate 404 rather than a connect timeout.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := SplitSessionPath(r.URL.Path)
	if !ok {
		writeNotFound(w, "malformed preview path")
		return
	}

	sess := rt.Store.Get(id)
	if sess == nil {
		writeNotFound(w, fmt.Sprintf("%v: %s", ErrProxyTargetMissing, id))
		return
	}

	rt.forward(w, r, sess, rest)
}

// RefererFallback returns a handler that re-homes requests which escaped
// their session prefix, using the Referer header to recover the session.
// Requests with no usable Referer fall through to next.
func (rt *Router) RefererFallback(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := sessionFromReferer(r.Header.Get("Referer")); id != "" {
			if sess := rt.Store.Get(id); sess != nil {
				rt.forward(w, r, sess, r.URL.Path)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// forward sends the request to the session's backend with path rest,
// choosing raw relay for WebSocket upgrades and a reverse proxy otherwise.
func (rt *Router) forward(w http.ResponseWriter, r *http.Request, sess *registry.PreviewSession, rest string) {
	if rest == "" {
		rest = "/"
	}
	backend := fmt.Sprintf("127.0.0.1:%d", sess.Port)

	if isWebSocketUpgrade(r) {
		rt.relayWebSocket(w, r, sess, backend, rest)
		return
	}

	target := &url.URL{Scheme: "http", Host: backend}
	rp := httputil.NewSingleHostReverseProxy(target)

	director := rp.Director
	rp.Director = func(req *http.Request) {
		director(req)
		req.URL.Path = rest
		req.Host = backend
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WithSession(sess.ID).With("component", "proxy").Warn("backend unreachable", "error", err)
		writeJSONError(w, http.StatusBadGateway, "bad_gateway", "preview backend is not responding")
	}

	rp.ServeHTTP(w, r)
}

// relayWebSocket hijacks the client connection, replays the upgrade
// handshake against the backend, and copies bytes both ways until either
// side closes.
func (rt *Router) relayWebSocket(w http.ResponseWriter, r *http.Request, sess *registry.PreviewSession, backend, rest string) {
	log := logger.WithSession(sess.ID).With("component", "proxy")

	backendConn, err := net.Dial("tcp", backend)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "bad_gateway", "preview backend is not responding")
		return
	}
	defer backendConn.Close()

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket proxying unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hj.Hijack()
	if err != nil {
		log.Warn("hijack failed", "error", err)
		return
	}
	defer clientConn.Close()

	// Replay the handshake with the rewritten path; headers pass through
	// untouched so the backend sees the original Sec-WebSocket-* fields.
	outReq := r.Clone(r.Context())
	outReq.URL = &url.URL{Path: rest, RawQuery: r.URL.RawQuery}
	outReq.Host = backend
	outReq.RequestURI = ""
	if err := outReq.Write(backendConn); err != nil {
		log.Warn("websocket handshake relay failed", "error", err)
		return
	}

	// Client bytes that arrived in the same segment as the handshake sit
	// in the server's buffer, not on clientConn; forward them first.
	if n := clientBuf.Reader.Buffered(); n > 0 {
		if _, err := io.CopyN(backendConn, clientBuf, int64(n)); err != nil {
			log.Warn("websocket buffered relay failed", "error", err)
			return
		}
	}

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(backendConn, clientConn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(clientConn, backendConn)
		done <- struct{}{}
	}()
	<-done
}

// SplitSessionPath extracts the session id and remainder from a
// /preview/<id>/... path. ok is false when the path has no id segment.
func SplitSessionPath(path string) (id, rest string, ok bool) {
	m := sessionPathRe.FindStringSubmatch(path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func sessionFromReferer(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	id, _, ok := SplitSessionPath(u.Path)
	if !ok {
		return ""
	}
	return id
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusNotFound, "not_found", msg)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
