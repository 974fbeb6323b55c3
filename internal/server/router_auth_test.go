package server

import (
	contextpkg "context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/aasharing/internal/auth"
	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthorizeHandler(t *testing.T, validateErr error, logger *zap.Logger) *httpHandler {
	t.Helper()
	tokens := stubBackendTokenManager{validateErr: validateErr}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{Tokens: tokens})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	return &httpHandler{tokens: tokens, sessions: sessions, logger: logger}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/partnerships", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := newAuthorizeHandler(t, auth.ErrExpiredToken, zap.New(core))

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/partnerships", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := newAuthorizeHandler(t, errors.New("signature mismatch"), zap.New(core))

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestAuthorizeRequestStoresCallerAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/events/stream?access_token=query-token", http.NoBody)
	ctx.Request = request

	expected := chain.ContractAddress("wallet")
	tokens := stubBackendTokenManager{address: expected}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{Tokens: tokens})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	handler := &httpHandler{tokens: tokens, sessions: sessions, logger: zap.NewNop()}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to pass, got status %d", recorder.Code)
	}
	if callerAddress(ctx) != expected {
		t.Fatalf("expected caller %s, got %s", expected.Hex(), callerAddress(ctx).Hex())
	}
}

type stubBackendTokenManager struct {
	address     chain.Address
	validateErr error
}

func (s stubBackendTokenManager) IssueBackendToken(contextpkg.Context, auth.WalletClaims) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubBackendTokenManager) ValidateToken(string) (chain.Address, error) {
	if s.validateErr != nil {
		return chain.ZeroAddress, s.validateErr
	}
	return s.address, nil
}
