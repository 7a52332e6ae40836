package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/owlby/owlby-backend/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newUserRepoForTest(t *testing.T) UserRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("migrate user: %v", err)
	}
	return NewUserRepository(db)
}

func TestUserRepositoryCreateAssignsIDAndNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	repo := newUserRepoForTest(t)

	u := &domain.User{Email: "  Alice@Example.COM ", Name: "Alice"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}

	found, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if found.ID != u.ID {
		t.Fatalf("expected same user, got %s vs %s", found.ID, u.ID)
	}
}

func TestUserRepositoryDuplicateEmailRejected(t *testing.T) {
	ctx := context.Background()
	repo := newUserRepoForTest(t)

	if err := repo.Create(ctx, &domain.User{Email: "a@example.com", Name: "A"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	err := repo.Create(ctx, &domain.User{Email: "a@example.com", Name: "A2"})
	if !errors.Is(err, ErrUserDuplicate) {
		t.Fatalf("expected ErrUserDuplicate, got %v", err)
	}
}

func TestUserRepositoryFederatedLookups(t *testing.T) {
	ctx := context.Background()
	repo := newUserRepoForTest(t)

	gid := "google-123"
	if err := repo.Create(ctx, &domain.User{Email: "g@example.com", Name: "G", GoogleID: &gid}); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := repo.FindByGoogleID(ctx, gid)
	if err != nil {
		t.Fatalf("find by google id: %v", err)
	}
	if u.Email != "g@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := repo.FindByAppleID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserRepositoryMarkEmailVerified(t *testing.T) {
	ctx := context.Background()
	repo := newUserRepoForTest(t)

	u := &domain.User{Email: "v@example.com", Name: "V"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkEmailVerified(ctx, u.ID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, err := repo.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.EmailVerified {
		t.Fatal("expected email_verified=true")
	}
	if err := repo.MarkEmailVerified(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for unknown id, got %v", err)
	}
}
