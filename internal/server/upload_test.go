package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/frith/blog/internal/storage"
)

func dialUpload(t *testing.T, httpServer *httptest.Server, uploadURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + uploadURL
	conn, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if response != nil {
			status = response.StatusCode
		}
		t.Fatalf("failed to dial upload socket (status %d): %v", status, err)
	}
	return conn
}

func awaitClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close frame, got %v", err)
		}
		return closeErr
	}
}

func prepareUpload(t *testing.T, server testServer, session, postID, name string) prepareImageResponsePayload {
	t.Helper()
	recorder := server.do(t, http.MethodPost, "/api/post/create/image/"+postID+"/"+name, session, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected upload to be prepared, got %d %s", recorder.Code, recorder.Body.String())
	}
	return decode[prepareImageResponsePayload](t, recorder)
}

func TestImageUploadPublishesThumbnails(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()
	alice := server.register(t, "alice", false)

	postID := decode[startPostResponsePayload](t, server.do(t, http.MethodPost, "/api/post/create/start", alice, nil)).PostID
	prepared := prepareUpload(t, server, alice, postID, "sunset.png")

	payload := encodePNG(t, 600)
	conn := dialUpload(t, httpServer, prepared.UploadURL)
	middle := len(payload) / 2
	for _, chunk := range [][]byte{payload[:middle], payload[middle:]} {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			t.Fatalf("failed to send chunk: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)); err != nil {
		t.Fatalf("failed to send end: %v", err)
	}
	closeErr := awaitClose(t, conn)
	conn.Close()
	if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "registered" {
		t.Fatalf("unexpected close %d %q", closeErr.Code, closeErr.Text)
	}

	recorder := server.do(t, http.MethodPost, "/api/post/create/finish", alice, finishPostRequestPayload{PostID: postID, Text: "look"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected finish, got %d %s", recorder.Code, recorder.Body.String())
	}
	post := decode[storage.Post](t, recorder)
	if post.InProgress || !slices.Equal(post.Images, []string{"sunset.png"}) {
		t.Fatalf("unexpected published post %+v", post)
	}

	recorder = server.do(t, http.MethodGet, prepared.ImageURL, "", nil)
	if recorder.Code != http.StatusOK || recorder.Body.Len() != len(payload) {
		t.Fatalf("expected raw image to be served, got %d (%d bytes)", recorder.Code, recorder.Body.Len())
	}
	recorder = server.do(t, http.MethodGet, "/api/post/image/"+postID+"/small/sunset.png", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected small thumbnail to be served, got %d", recorder.Code)
	}
}

func TestImageUploadCancelDiscardsFile(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()
	alice := server.register(t, "alice", false)

	postID := decode[startPostResponsePayload](t, server.do(t, http.MethodPost, "/api/post/create/start", alice, nil)).PostID
	prepared := prepareUpload(t, server, alice, postID, "draft.png")

	conn := dialUpload(t, httpServer, prepared.UploadURL)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("partial")); err != nil {
		t.Fatalf("failed to send chunk: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cancel"}`)); err != nil {
		t.Fatalf("failed to send cancel: %v", err)
	}
	closeErr := awaitClose(t, conn)
	conn.Close()
	if closeErr.Text != "cancelled" {
		t.Fatalf("unexpected close reason %q", closeErr.Text)
	}

	if _, err := os.Stat(server.store.ImagePath(postID, storage.SizeRaw, "draft.png")); !os.IsNotExist(err) {
		t.Fatalf("expected partial file to be removed, got %v", err)
	}
	draft, err := server.posts.Registry().Lookup(postID, "alice")
	if err != nil {
		t.Fatalf("lookup draft: %v", err)
	}
	if len(draft.Media.Images) != 0 {
		t.Fatalf("cancelled upload must not be registered, got %v", draft.Media.Images)
	}
}

func TestImageSocketRejectsBadTickets(t *testing.T) {
	server := newTestServer(t)
	alice := server.register(t, "alice", false)
	postID := decode[startPostResponsePayload](t, server.do(t, http.MethodPost, "/api/post/create/start", alice, nil)).PostID
	prepared := prepareUpload(t, server, alice, postID, "a.png")

	recorder := server.do(t, http.MethodGet, "/api/post/create/image/"+postID+"/a.png?ticket=garbage", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid ticket, got %d", recorder.Code)
	}
	ticket := prepared.UploadURL[strings.Index(prepared.UploadURL, "?"):]
	recorder = server.do(t, http.MethodGet, "/api/post/create/image/"+postID+"/other.png"+ticket, "", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ticket bound to another file, got %d", recorder.Code)
	}

	bob := server.register(t, "bob", false)
	recorder = server.do(t, http.MethodPost, "/api/post/create/image/"+postID+"/b.png", bob, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 preparing upload on another author's post, got %d", recorder.Code)
	}
}
