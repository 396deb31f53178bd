package sessions

import (
	"context"
	"testing"
	"time"
)

func TestCreateAndValidateSession(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, "user-1", "Ann", time.Hour)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if s.ID == "" {
		t.Fatalf("expected session id")
	}
	// validate
	got, err := svc.Validate(ctx, s.ID)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if got == nil || got.UserID != "user-1" || got.Name != "Ann" {
		t.Fatalf("unexpected session: %v", got)
	}
	// revoke
	n, err := svc.RevokeAll(ctx, "user-1")
	if err != nil || n != 1 {
		t.Fatalf("revoke failed: n=%d err=%v", n, err)
	}
	got2, _ := svc.Validate(ctx, s.ID)
	if got2 != nil {
		t.Fatalf("expected session removed")
	}
}

func TestRevokeAll_OnlyTouchesOneUser(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	a1, _ := svc.CreateSession(ctx, "a", "A", time.Hour)
	a2, _ := svc.CreateSession(ctx, "a", "A", time.Hour)
	b, _ := svc.CreateSession(ctx, "b", "B", time.Hour)

	n, err := svc.RevokeAll(ctx, "a")
	if err != nil || n != 2 {
		t.Fatalf("revoke: n=%d err=%v", n, err)
	}
	for _, id := range []string{a1.ID, a2.ID} {
		if s, _ := svc.Validate(ctx, id); s != nil {
			t.Fatalf("token %s still valid", id)
		}
	}
	if s, _ := svc.Validate(ctx, b.ID); s == nil {
		t.Fatalf("other user's token was revoked")
	}
}

func TestValidate_ExpiredAndUnknown(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()
	_ = repo.Create(ctx, &Session{ID: "old", UserID: "u", ExpiresAt: time.Now().UTC().Add(-time.Minute)})

	if s, err := svc.Validate(ctx, "old"); err != nil || s != nil {
		t.Fatalf("expired session should be rejected: %v %v", s, err)
	}
	if s, err := svc.Validate(ctx, "missing"); err != nil || s != nil {
		t.Fatalf("unknown session should be rejected: %v %v", s, err)
	}
	if s, err := svc.Validate(ctx, ""); err != nil || s != nil {
		t.Fatalf("empty id should be rejected: %v %v", s, err)
	}
}
