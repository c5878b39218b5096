package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/webhook"
)

func TestHTTPPublisherSendsSignedHeadersAndBody(t *testing.T) {
	var gotHeader string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Summa-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	send := webhook.HTTPPublisher()
	err := send(context.Background(), srv.URL, map[string]string{"X-Summa-Signature": "abc123"}, []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotHeader)
	assert.Equal(t, `{"ok":true}`, string(gotBody))
}

func TestHTTPPublisherReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	send := webhook.HTTPPublisher()
	err := send(context.Background(), srv.URL, nil, []byte(`{}`))
	assert.Error(t, err)
}

func TestDrainArgsKind(t *testing.T) {
	assert.Equal(t, "outbox_drain", webhook.DrainArgs{}.Kind())
}
