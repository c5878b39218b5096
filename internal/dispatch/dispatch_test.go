package dispatch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/dispatch"
	"github.com/tishiu/summa/internal/ledgererr"
)

func TestSpecificRouteOutranksParametric(t *testing.T) {
	d := dispatch.New()
	d.Handle("GET", "/ledgers/:ledgerId/accounts", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		return &dispatch.Response{Status: 200, Body: []byte(`"parametric"`)}, nil
	})
	d.Handle("GET", "/ledgers/default/accounts", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		return &dispatch.Response{Status: 200, Body: []byte(`"specific"`)}, nil
	})

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/ledgers/default/accounts"})
	assert.Equal(t, `"specific"`, string(resp.Body))
}

func TestParametricRouteStillMatchesOtherValues(t *testing.T) {
	d := dispatch.New()
	d.Handle("GET", "/ledgers/:ledgerId/accounts", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		return &dispatch.Response{Status: 200, Body: []byte(p["ledgerId"])}, nil
	})
	d.Handle("GET", "/ledgers/default/accounts", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		return &dispatch.Response{Status: 200, Body: []byte(`"specific"`)}, nil
	})

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/ledgers/abc123/accounts"})
	assert.Equal(t, "abc123", string(resp.Body))
}

func TestUnmatchedRouteReturns404(t *testing.T) {
	d := dispatch.New()
	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/nope"})
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHandlerErrorIsTranslatedToLedgerErrStatus(t *testing.T) {
	d := dispatch.New()
	d.Handle("GET", "/accounts/:id", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		return nil, ledgererr.NotFound("account %s not found", p["id"])
	})

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/accounts/missing"})
	assert.Equal(t, http.StatusNotFound, resp.Status)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, string(ledgererr.CodeNotFound), errObj["code"])
}

func TestSecurityHeadersAlwaysPresent(t *testing.T) {
	d := dispatch.New()
	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/nope"})
	assert.Equal(t, "nosniff", resp.Headers["X-Content-Type-Options"])
	assert.Equal(t, "DENY", resp.Headers["X-Frame-Options"])
}

func TestPreHookErrorShortCircuitsBeforeRouting(t *testing.T) {
	d := dispatch.New()
	called := false
	d.Handle("GET", "/x", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		called = true
		return &dispatch.Response{Status: 200}, nil
	})
	d.PreHook(func(ctx context.Context, req *dispatch.Request) (context.Context, error) {
		return ctx, ledgererr.InvalidArgument("blocked")
	})

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/x"})
	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestPostHookObservesResponse(t *testing.T) {
	d := dispatch.New()
	d.Handle("GET", "/x", func(ctx context.Context, req *dispatch.Request, p map[string]string) (*dispatch.Response, error) {
		return &dispatch.Response{Status: 200}, nil
	})

	var observed *dispatch.Response
	d.PostHook(func(ctx context.Context, req *dispatch.Request, resp *dispatch.Response) {
		observed = resp
	})

	d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/x"})
	require.NotNil(t, observed)
	assert.Equal(t, 200, observed.Status)
}

func TestCheckOriginRejectsUntrustedOrigin(t *testing.T) {
	hook := dispatch.CheckOrigin([]string{"https://trusted.example"})
	_, err := hook(context.Background(), &dispatch.Request{Headers: map[string]string{"Origin": "https://evil.example"}})
	assert.Error(t, err)
}

func TestCheckOriginAllowsTrustedOrigin(t *testing.T) {
	hook := dispatch.CheckOrigin([]string{"https://trusted.example"})
	_, err := hook(context.Background(), &dispatch.Request{Headers: map[string]string{"Origin": "https://trusted.example"}})
	assert.NoError(t, err)
}

func TestCheckOriginAllowsMissingOriginHeader(t *testing.T) {
	hook := dispatch.CheckOrigin([]string{"https://trusted.example"})
	_, err := hook(context.Background(), &dispatch.Request{Headers: map[string]string{}})
	assert.NoError(t, err)
}

func TestRequestContextRoundTrips(t *testing.T) {
	ctx := dispatch.WithRequestContext(context.Background(), "identity-123")
	v, ok := dispatch.RequestContextFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "identity-123", v)
}
