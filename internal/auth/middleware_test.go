package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tishiu/summa/internal/auth"
	"github.com/tishiu/summa/internal/dispatch"
)

func TestAuthHookRejectsMissingAuthorizationHeader(t *testing.T) {
	m := &auth.Middleware{Schema: "summa", APIKeySecret: []byte("secret")}
	hook := m.AuthHook()

	_, err := hook(context.Background(), &dispatch.Request{Headers: map[string]string{}})
	assert.Error(t, err)
}

func TestAuthHookRejectsNonBearerScheme(t *testing.T) {
	m := &auth.Middleware{Schema: "summa", APIKeySecret: []byte("secret")}
	hook := m.AuthHook()

	_, err := hook(context.Background(), &dispatch.Request{Headers: map[string]string{"Authorization": "Basic abc123"}})
	assert.Error(t, err)
}

func TestAuthHookRejectsEmptyBearerToken(t *testing.T) {
	m := &auth.Middleware{Schema: "summa", APIKeySecret: []byte("secret")}
	hook := m.AuthHook()

	_, err := hook(context.Background(), &dispatch.Request{Headers: map[string]string{"Authorization": "Bearer   "}})
	assert.Error(t, err)
}
