package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lyceum-labs/curricula/backend/internal/auth"
	"github.com/lyceum-labs/curricula/backend/internal/blob"
	"github.com/lyceum-labs/curricula/backend/internal/curriculum"
	"github.com/lyceum-labs/curricula/backend/internal/vault"
)

const testEditorKey = "test-editor-key"

type routerEnvironment struct {
	handler    http.Handler
	db         *gorm.DB
	dispatcher *RealtimeDispatcher
}

func newRouterEnvironment(t *testing.T, publisher CoursePublisher) *routerEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&blob.Record{}, &vault.Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	blobStore, err := blob.NewStore(blob.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct blob store: %v", err)
	}
	vaultStore, err := vault.NewStore(vault.StoreConfig{
		Database: db,
		Key:      bytes.Repeat([]byte{0x24}, 32),
	})
	if err != nil {
		t.Fatalf("failed to construct vault store: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	registry, err := curriculum.NewRegistry(curriculum.RegistryConfig{
		Snapshots:  vaultStore,
		Blobs:      blobStore,
		IDProvider: curriculum.NewUUIDProvider(),
		OnChange: func(courseID curriculum.CourseID) {
			dispatcher.Publish(RealtimeMessage{
				CourseID:  courseID.String(),
				EventType: RealtimeEventCurriculumChanged,
				Timestamp: time.Now().UTC(),
			})
		},
	})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "curricula-auth",
		Audience:      "curricula-api",
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		EditorKey:    testEditorKey,
		Registry:     registry,
		Publisher:    publisher,
		Blobs:        blobStore,
		Dispatcher:   dispatcher,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &routerEnvironment{handler: handler, db: db, dispatcher: dispatcher}
}

func (env *routerEnvironment) issueToken(t *testing.T) string {
	t.Helper()

	recorder := env.doJSON(t, http.MethodPost, "/auth/token", "", map[string]string{"editor_key": testEditorKey})
	if recorder.Code != http.StatusOK {
		t.Fatalf("token exchange failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response tokenResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if response.AccessToken == "" {
		t.Fatalf("expected a non-empty access token")
	}
	return response.AccessToken
}

func (env *routerEnvironment) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode request payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, body)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func (env *routerEnvironment) fetchCourse(t *testing.T, token, courseID string) curriculum.Course {
	t.Helper()

	recorder := env.doJSON(t, http.MethodGet, "/courses/"+courseID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("failed to fetch course with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var course curriculum.Course
	if err := json.Unmarshal(recorder.Body.Bytes(), &course); err != nil {
		t.Fatalf("failed to decode course: %v", err)
	}
	return course
}
