package api_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/api"
	"github.com/tishiu/summa/internal/dispatch"
)

func TestOkRouteReturns200(t *testing.T) {
	s := &api.Server{}
	d := dispatch.New()
	s.Register(d)

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/ok"})
	assert.Equal(t, 200, resp.Status)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, true, body["ok"])
}

func TestMalformedBodyIsRejectedBeforeTouchingDependencies(t *testing.T) {
	s := &api.Server{}
	d := dispatch.New()
	s.Register(d)

	routes := []struct{ method, path string }{
		{"POST", "/accounts"},
		{"POST", "/transactions/credit"},
		{"POST", "/transactions/debit"},
		{"POST", "/transactions/transfer"},
		{"POST", "/transactions/multi-transfer"},
		{"POST", "/transactions/refund"},
		{"POST", "/holds"},
		{"POST", "/events/verify"},
	}
	for _, r := range routes {
		resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: r.method, Path: r.path, Body: []byte("not json")})
		assert.Equal(t, 400, resp.Status, "%s %s should reject malformed JSON with 400", r.method, r.path)
	}
}

func TestMissingLedgerIDIsRejectedBeforeTouchingDependencies(t *testing.T) {
	s := &api.Server{}
	d := dispatch.New()
	s.Register(d)

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "POST", Path: "/transactions/credit", Body: []byte(`{"holderId":"alice","amount":100}`)})
	assert.Equal(t, 400, resp.Status)
}

func TestUnmatchedRouteStill404s(t *testing.T) {
	s := &api.Server{}
	d := dispatch.New()
	s.Register(d)

	resp := d.HandleRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/nonexistent"})
	assert.Equal(t, 404, resp.Status)
}
