// Package dispatch is the framework-agnostic HTTP request dispatcher: a
// pure handle(method, path, body, query, headers) function so the same
// routing/hook/security logic can sit behind net/http, a Lambda adapter,
// or a test harness without change. Routes match specific-before-
// parametric, with a pre/post-dispatch hook pipeline, baseline security
// headers on every response, and a CSRF/origin pre-hook (CheckOrigin).
// The dispatcher does no rate limiting.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tishiu/summa/internal/ledgererr"
)

type Request struct {
	Method  string
	Path    string
	Body    []byte
	Query   map[string][]string
	Headers map[string]string
}

type Response struct {
	Status  int
	Body    []byte
	Headers map[string]string
}

type HandlerFunc func(ctx context.Context, req *Request, params map[string]string) (*Response, error)

type Hook func(ctx context.Context, req *Request) (context.Context, error)

type route struct {
	method  string
	segs    []string
	handler HandlerFunc
}

type Dispatcher struct {
	routes   []route
	preHooks []Hook
	postHooks []func(ctx context.Context, req *Request, resp *Response)
}

func New() *Dispatcher {
	return &Dispatcher{}
}

// Handle registers a route. Paths use ":name" for parametric segments,
// e.g. "/ledgers/:ledgerId/accounts/:accountId".
func (d *Dispatcher) Handle(method, path string, h HandlerFunc) {
	d.routes = append(d.routes, route{method: strings.ToUpper(method), segs: splitPath(path), handler: h})
	// Specific-before-parametric: static segments outrank ":param"
	// segments at the same position.
	sort.SliceStable(d.routes, func(i, j int) bool {
		return specificity(d.routes[i].segs) > specificity(d.routes[j].segs)
	})
}

func (d *Dispatcher) PreHook(h Hook) { d.preHooks = append(d.preHooks, h) }

func (d *Dispatcher) PostHook(h func(ctx context.Context, req *Request, resp *Response)) {
	d.postHooks = append(d.postHooks, h)
}

// HandleRequest is the pure entry point: handleRequest(method, path,
// body, query, headers).
func (d *Dispatcher) HandleRequest(ctx context.Context, req *Request) *Response {
	for _, hook := range d.preHooks {
		var err error
		ctx, err = hook(ctx, req)
		if err != nil {
			resp := d.errorResponse(ctx, req, err)
			withSecurityHeaders(resp)
			return resp
		}
	}

	segs := splitPath(req.Path)
	for _, r := range d.routes {
		if r.method != req.Method {
			continue
		}
		params, ok := match(r.segs, segs)
		if !ok {
			continue
		}
		resp, err := r.handler(ctx, req, params)
		if err != nil {
			resp = d.errorResponse(ctx, req, err)
		}
		withSecurityHeaders(resp)
		for _, hook := range d.postHooks {
			hook(ctx, req, resp)
		}
		return resp
	}

	resp := d.errorResponse(ctx, req, ledgererr.NotFound("no route matches %s %s", req.Method, req.Path))
	withSecurityHeaders(resp)
	return resp
}

func (d *Dispatcher) errorResponse(ctx context.Context, req *Request, err error) *Response {
	le, ok := ledgererr.As(err)
	if !ok {
		le = ledgererr.Internal(err)
	}
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    le.Code,
			"message": le.Message,
		},
	})
	return &Response{Status: le.Status(), Body: body, Headers: map[string]string{"Content-Type": "application/json"}}
}

// withSecurityHeaders adds the baseline security headers required on
// every response regardless of route.
func withSecurityHeaders(resp *Response) {
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["X-Content-Type-Options"] = "nosniff"
	resp.Headers["X-Frame-Options"] = "DENY"
	resp.Headers["Referrer-Policy"] = "no-referrer"
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func specificity(segs []string) int {
	score := 0
	for _, s := range segs {
		if !strings.HasPrefix(s, ":") {
			score++
		}
	}
	return score
}

func match(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

// requestContextKey is the context key under which per-request identity
// (authenticated ledger/API key) is stashed by an auth pre-hook.
type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rc any) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

func RequestContextFrom(ctx context.Context) (any, bool) {
	v := ctx.Value(requestContextKey{})
	return v, v != nil
}

// CheckOrigin implements the CSRF/origin pre-hook: a mutating request
// that carries an Origin header is rejected unless that origin is one of
// the configured trusted origins. GET, HEAD and OPTIONS requests, and
// requests without an Origin header, pass.
func CheckOrigin(trusted []string) Hook {
	set := map[string]bool{}
	for _, o := range trusted {
		set[o] = true
	}
	return func(ctx context.Context, req *Request) (context.Context, error) {
		switch req.Method {
		case "GET", "HEAD", "OPTIONS":
			return ctx, nil
		}
		origin := req.Headers["Origin"]
		if origin == "" {
			return ctx, nil
		}
		if !set[origin] {
			return ctx, ledgererr.New(ledgererr.CodeInvalidArgument, fmt.Sprintf("origin %q is not trusted", origin))
		}
		return ctx, nil
	}
}
