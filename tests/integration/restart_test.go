package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frith/blog/internal/auth"
	"github.com/frith/blog/internal/database"
	"github.com/frith/blog/internal/joinqueue"
	"github.com/frith/blog/internal/posts"
	"github.com/frith/blog/internal/server"
	"github.com/frith/blog/internal/storage"
	"github.com/frith/blog/internal/users"
)

const (
	legacyUsername   = "legacy"
	legacyPassword   = "legacy-password"
	uploadSecret     = "integration-secret"
	jsonContentType  = "application/json"
	draftText        = "written before the restart"
)

type stack struct {
	server *httptest.Server
	posts  *posts.Service
	close  func()
}

func startStack(testContext *testing.T, root string) stack {
	testContext.Helper()

	store, err := storage.NewFileStore(filepath.Join(root, "store"))
	if err != nil {
		testContext.Fatalf("failed to open store: %v", err)
	}
	db, err := database.OpenSQLite(filepath.Join(root, "blog.db"), store.Root(), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}

	pool := joinqueue.NewBlockingPool(2)
	postService, err := posts.NewService(posts.ServiceConfig{
		Store:      store,
		Pool:       pool,
		IDProvider: posts.NewRandomIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build posts service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Store: store, Pool: pool})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	tickets, err := auth.NewTicketIssuer(auth.TicketIssuerConfig{SigningSecret: []byte(uploadSecret)})
	if err != nil {
		testContext.Fatalf("failed to build ticket issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Posts:    postService,
		Users:    userService,
		Sessions: auth.NewSessionStore(time.Hour, nil),
		Invites:  auth.NewInviteStore(time.Hour, nil),
		Tickets:  tickets,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	return stack{
		server: testServer,
		posts:  postService,
		close: func() {
			testServer.Close()
			sqlDB.Close()
		},
	}
}

func (s stack) post(testContext *testing.T, path, session string, body any) *http.Response {
	testContext.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		testContext.Fatalf("failed to encode body: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(encoded))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if session != "" {
		request.Header.Set("Authorization", "Bearer "+session)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request to %s failed: %v", path, err)
	}
	return response
}

func (s stack) login(testContext *testing.T) string {
	testContext.Helper()
	response := s.post(testContext, "/api/session", "", map[string]string{"username": legacyUsername, "password": legacyPassword})
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("legacy login failed with status %d", response.StatusCode)
	}
	var payload struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode session: %v", err)
	}
	return payload.Session
}

func TestDraftSurvivesRestart(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	root := testContext.TempDir()

	hash, err := users.HashPassword(legacyPassword)
	if err != nil {
		testContext.Fatalf("failed to hash password: %v", err)
	}
	store, err := storage.NewFileStore(filepath.Join(root, "store"))
	if err != nil {
		testContext.Fatalf("failed to create store: %v", err)
	}
	if err := store.CreateUser(storage.User{Username: legacyUsername, Name: "Legacy Author"}); err != nil {
		testContext.Fatalf("failed to seed legacy profile: %v", err)
	}
	legacy := []byte(legacyUsername + "\t" + hash + "\n")
	if err := os.WriteFile(filepath.Join(root, "store", "logins.txt"), legacy, 0o600); err != nil {
		testContext.Fatalf("failed to write legacy logins: %v", err)
	}

	first := startStack(testContext, root)
	session := first.login(testContext)
	response := first.post(testContext, "/api/post/create/start", session, map[string]string{})
	var started struct {
		PostID string `json:"post_id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&started); err != nil {
		testContext.Fatalf("failed to decode start response: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusCreated || started.PostID == "" {
		testContext.Fatalf("unexpected start response %d %+v", response.StatusCode, started)
	}
	first.close()

	second := startStack(testContext, root)
	defer second.close()
	restored, err := second.posts.RestoreIncomplete(testContext.Context())
	if err != nil {
		testContext.Fatalf("restore failed: %v", err)
	}
	if restored != 1 {
		testContext.Fatalf("expected one draft restored, got %d", restored)
	}

	session = second.login(testContext)
	response = second.post(testContext, "/api/post/create/finish", session, map[string]string{"post_id": started.PostID, "text": draftText})
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("finish after restart failed with status %d", response.StatusCode)
	}

	latest, err := http.Get(second.server.URL + "/api/post/latest")
	if err != nil {
		testContext.Fatalf("latest request failed: %v", err)
	}
	defer latest.Body.Close()
	var feed []storage.Post
	if err := json.NewDecoder(latest.Body).Decode(&feed); err != nil {
		testContext.Fatalf("failed to decode feed: %v", err)
	}
	if len(feed) != 1 || feed[0].ID != started.PostID || feed[0].Author != legacyUsername {
		testContext.Fatalf("unexpected feed after restart %+v", feed)
	}
}
