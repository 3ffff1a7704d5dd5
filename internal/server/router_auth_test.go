package server

import (
	"net/http"
	"testing"
)

func TestTokenExchangeIssuesBearerToken(t *testing.T) {
	env := newRouterEnvironment(t, nil)

	token := env.issueToken(t)

	recorder := env.doJSON(t, http.MethodGet, "/courses/course-1", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("issued token must open the protected surface, got %d", recorder.Code)
	}
}

func TestTokenExchangeRejectsWrongEditorKey(t *testing.T) {
	env := newRouterEnvironment(t, nil)

	recorder := env.doJSON(t, http.MethodPost, "/auth/token", "", map[string]string{"editor_key": "wrong-key"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", recorder.Code)
	}
}

func TestTokenExchangeRejectsEmptyPayload(t *testing.T) {
	env := newRouterEnvironment(t, nil)

	recorder := env.doJSON(t, http.MethodPost, "/auth/token", "", map[string]string{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := newRouterEnvironment(t, nil)

	recorder := env.doJSON(t, http.MethodGet, "/courses/course-1", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a token, got %d", recorder.Code)
	}

	recorder = env.doJSON(t, http.MethodGet, "/courses/course-1", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for a malformed token, got %d", recorder.Code)
	}
}
