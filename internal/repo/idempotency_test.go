package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

const scope = "POST /api/queries"

func TestGetIdempotency_BlankScopeOrKey_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, true)
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank scope, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "1", scope, "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, true)
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:         "expired",
		UserID:     "1",
		Scope:      scope,
		Key:        "k1",
		ResourceID: "5",
		Status:     201,
		CreatedAt:  now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "1", scope, "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	rec2, err2 := GetIdempotency(context.Background(), db, "1", scope, "missing", now)
	if rec2 != nil || err2 != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec2, err2)
	}
}

func TestCreateIdempotency_SuccessLookupAndDuplicate(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "9", scope, "k9", "42", 201, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec.ID == "" || rec.UserID != "9" || rec.Scope != scope || rec.ResourceID != "42" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, "9", scope, "k9", time.Now().UTC())
	if err != nil || got.ResourceID != "42" {
		t.Fatalf("lookup after create: rec=%+v err=%v", got, err)
	}

	// Same key under another user is independent.
	if _, err := CreateIdempotency(ctx, db, "10", scope, "k9", "43", 201, ttl); err != nil {
		t.Fatalf("other user same key: %v", err)
	}

	if _, err := CreateIdempotency(ctx, db, "9", scope, "k9", "44", 201, ttl); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t, false)
	_, err := CreateIdempotency(context.Background(), db, "1", scope, "k", "1", 201, time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, exp := range []time.Time{now.Add(-time.Minute), now, now.Add(time.Hour)} {
		rec := &domain.Idempotency{
			ID: fmt.Sprintf("p%d", i), UserID: "1", Scope: scope, Key: fmt.Sprintf("k%d", i),
			ResourceID: "1", Status: 201, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: exp,
		}
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	n, err := PurgeExpiredIdempotency(ctx, db, now)
	if err != nil || n != 2 {
		t.Fatalf("purge = %d, %v; want 2 rows", n, err)
	}
	if _, err := GetIdempotency(ctx, db, "1", scope, "k2", now); err != nil {
		t.Fatalf("live record purged: %v", err)
	}
	if n, _ := PurgeExpiredIdempotency(ctx, db, now); n != 0 {
		t.Fatalf("second purge removed %d rows", n)
	}
}

func TestGetIdempotency_AnonymousDoesNotMatchUsers(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	if _, err := CreateIdempotency(ctx, db, "3", scope, "shared", "8", 201, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec, err := GetIdempotency(ctx, db, "", scope, "shared", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("anonymous lookup matched %+v (%v)", rec, err)
	}
}
