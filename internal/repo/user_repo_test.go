package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

func TestCreateUser_AndDuplicate(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	rid := roleID(t, db, domain.RoleUser)

	u, err := CreateUser(ctx, db, "alice", "hash", rid)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 || u.Username != "alice" || u.RoleID != rid {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := CreateUser(ctx, db, "alice", "other", rid); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := GetUserByUsername(ctx, db, "alice")
	if err != nil || got.ID != u.ID || got.RoleName() != domain.RoleUser {
		t.Fatalf("GetUserByUsername: got=%+v err=%v", got, err)
	}
	if _, err := GetUser(ctx, db, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUsernameTaken_CountAndUpdate(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	a := seedUser(t, db, "amy")
	b := seedUser(t, db, "bob")

	taken, err := UsernameTaken(ctx, db, "amy", b.ID)
	if err != nil || !taken {
		t.Fatalf("amy should be taken for bob: %v %v", taken, err)
	}
	taken, _ = UsernameTaken(ctx, db, "amy", a.ID)
	if taken {
		t.Fatalf("a user's own name must not count as taken")
	}

	n, err := CountUsersByIDs(ctx, db, []uint{a.ID, b.ID, 999})
	if err != nil || n != 2 {
		t.Fatalf("CountUsersByIDs = %d, %v; want 2", n, err)
	}
	if n, _ := CountUsersByIDs(ctx, db, nil); n != 0 {
		t.Fatalf("CountUsersByIDs(nil) = %d", n)
	}

	if err := UpdateUser(ctx, db, a.ID, map[string]any{"username": "amelia"}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if err := UpdateUser(ctx, db, b.ID, map[string]any{"username": "amelia"}); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate on rename clash, got %v", err)
	}
	if err := UpdateUser(ctx, db, 999, map[string]any{"username": "ghost"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	users, err := ListUsers(ctx, db)
	if err != nil || len(users) != 2 || users[0].Username != "amelia" || users[0].Role == nil {
		t.Fatalf("ListUsers unexpected: %+v err=%v", users, err)
	}
}

func TestRoles(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	r, err := GetRoleByName(ctx, db, domain.RoleAdmin)
	if err != nil || r.Name != domain.RoleAdmin {
		t.Fatalf("GetRoleByName: %+v %v", r, err)
	}
	if _, err := GetRoleByName(ctx, db, "ROOT"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, err := GetRole(ctx, db, r.ID); err != nil || got.Name != domain.RoleAdmin {
		t.Fatalf("GetRole: %+v %v", got, err)
	}
	roles, err := ListRoles(ctx, db)
	if err != nil || len(roles) != 2 {
		t.Fatalf("ListRoles: %+v %v", roles, err)
	}
}

// seedGraph builds: target owns a calendar, asked one query (targeting other)
// and was targeted by one query from other; target and other are friends.
func seedGraph(t *testing.T, db *gorm.DB) (target, other *domain.User) {
	t.Helper()
	ctx := context.Background()
	target = seedUser(t, db, "target")
	other = seedUser(t, db, "other")
	tid := typeID(t, db, domain.QueryTypePrompt)

	if _, err := CreateCalendar(ctx, db, target.ID, datatypes.JSON(`{"monday":["09:00-10:00"]}`)); err != nil {
		t.Fatalf("seed calendar: %v", err)
	}
	if _, err := CreateCalendar(ctx, db, other.ID, datatypes.JSON(`{"friday":["13:00-17:00"]}`)); err != nil {
		t.Fatalf("seed calendar: %v", err)
	}
	own := &domain.Query{UserID: target.ID, TypeID: tid, Content: "mine"}
	if err := CreateQuery(ctx, db, own); err != nil {
		t.Fatalf("seed query: %v", err)
	}
	if err := CreateQueryTargets(ctx, db, own.ID, []uint{other.ID}); err != nil {
		t.Fatalf("seed targets: %v", err)
	}
	theirs := &domain.Query{UserID: other.ID, TypeID: tid, Content: "theirs"}
	if err := CreateQuery(ctx, db, theirs); err != nil {
		t.Fatalf("seed query: %v", err)
	}
	if err := CreateQueryTargets(ctx, db, theirs.ID, []uint{target.ID}); err != nil {
		t.Fatalf("seed targets: %v", err)
	}
	f, err := CreateFriendship(ctx, db, other.ID, target.ID)
	if err != nil {
		t.Fatalf("seed friendship: %v", err)
	}
	if err := SetFriendshipStatus(ctx, db, f.ID, domain.FriendshipAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return target, other
}

func count(t *testing.T, db *gorm.DB, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func TestDeleteUserCascade_RemovesEverything(t *testing.T) {
	db := newTestDB(t, true)
	target, other := seedGraph(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		return DeleteUserCascade(context.Background(), tx, target.ID)
	})
	if err != nil {
		t.Fatalf("DeleteUserCascade: %v", err)
	}

	if n := count(t, db, &domain.User{}, "id = ?", target.ID); n != 0 {
		t.Fatalf("user still present")
	}
	if n := count(t, db, &domain.Calendar{}, "user_id = ?", target.ID); n != 0 {
		t.Fatalf("calendar still present")
	}
	if n := count(t, db, &domain.Query{}, "user_id = ?", target.ID); n != 0 {
		t.Fatalf("owned queries still present")
	}
	if n := count(t, db, &domain.QueryUser{}, "user_id = ?", target.ID); n != 0 {
		t.Fatalf("targeting rows still present")
	}
	if n := count(t, db, &domain.Friendship{}, "requester_id = ? OR receiver_id = ?", target.ID, target.ID); n != 0 {
		t.Fatalf("friendships still present")
	}
	// The other user's data survives, including the query that used to target the deleted user.
	if n := count(t, db, &domain.Query{}, "user_id = ?", other.ID); n != 1 {
		t.Fatalf("other user's query removed")
	}
	if n := count(t, db, &domain.QueryUser{}, "1 = 1"); n != 0 {
		t.Fatalf("expected no query_users left, got %d", n)
	}
	if n := count(t, db, &domain.Calendar{}, "user_id = ?", other.ID); n != 1 {
		t.Fatalf("other user's calendar removed")
	}
}

func TestDeleteUserCascade_NotFound(t *testing.T) {
	db := newTestDB(t, true)
	err := db.Transaction(func(tx *gorm.DB) error {
		return DeleteUserCascade(context.Background(), tx, 4242)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
