package users

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/frith/blog/internal/joinqueue"
	"github.com/frith/blog/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.FileStore) {
	t.Helper()
	root := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(root, "logins.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Login{}); err != nil {
		t.Fatalf("failed to migrate login schema: %v", err)
	}
	store, err := storage.NewFileStore(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Store: store, Pool: joinqueue.NewBlockingPool(1)})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, store
}

func TestRegisterAndVerify(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, Registration{
		Username:    "alice",
		Name:        "Alice",
		Password:    "correct horse",
		Permissions: storage.Permissions{CanCreateInvites: true},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Username != "alice" || user.Name != "Alice" || !user.Permissions.CanCreateInvites {
		t.Fatalf("unexpected profile %+v", user)
	}
	if _, err := store.ReadUser("alice"); err != nil {
		t.Fatalf("expected profile on disk: %v", err)
	}

	ok, err := service.Verify(ctx, "alice", "correct horse")
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	ok, err = service.Verify(ctx, "alice", "wrong")
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
	ok, err = service.Verify(ctx, "nobody", "x")
	if err != nil || ok {
		t.Fatalf("expected unknown user to fail quietly, ok=%v err=%v", ok, err)
	}
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, Registration{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := service.Register(ctx, Registration{Username: "bob", Password: "pw2"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	for _, username := range []string{"", "bad name", "../etc", "émile", strings.Repeat("a", 65)} {
		if _, err := service.Register(ctx, Registration{Username: username, Password: "pw"}); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("expected ErrInvalidUsername for %q, got %v", username, err)
		}
	}
	if _, err := service.Register(ctx, Registration{Username: "carol"}); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}

	if err := store.CreateUser(storage.User{Username: "legacy"}); err != nil {
		t.Fatalf("create legacy profile: %v", err)
	}
	if _, err := service.Register(ctx, Registration{Username: "legacy", Password: "pw"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken for existing profile, got %v", err)
	}
	if ok, _ := service.Verify(ctx, "legacy", "pw"); ok {
		t.Fatalf("rolled back login must not verify")
	}
}

func TestProfileLookup(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.Register(ctx, Registration{Username: "dana", Password: "pw"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	user, err := service.Profile(ctx, "dana")
	if err != nil || user.Name != "dana" {
		t.Fatalf("unexpected profile %+v err=%v", user, err)
	}
	if _, err := service.Profile(ctx, "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestPasswordHashFormat(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	other, _ := HashPassword("secret")
	if other == hash {
		t.Fatalf("expected distinct salts")
	}
	if _, err := VerifyPassword("secret", "$bcrypt$nope"); err == nil {
		t.Fatalf("expected malformed hash error")
	}
}
