package domain

import (
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Role{}, &User{}, &Calendar{}, &QueryType{}, &Query{}, &QueryUser{}, &Friendship{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Role{}.TableName():       "roles",
		User{}.TableName():       "users",
		Calendar{}.TableName():   "calendars",
		QueryType{}.TableName():  "query_types",
		Query{}.TableName():      "queries",
		QueryUser{}.TableName():  "query_users",
		Friendship{}.TableName(): "friendships",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	checks := []struct {
		model any
		index string
	}{
		{&Role{}, "ux_roles_name"},
		{&User{}, "ux_users_username"},
		{&Calendar{}, "ux_calendars_user"},
		{&QueryType{}, "ux_query_types_name"},
		{&Query{}, "idx_queries_user_created"},
		{&Friendship{}, "ux_friendships_pair"},
	}
	for _, c := range checks {
		if !m.HasIndex(c.model, c.index) {
			t.Fatalf("expected index %s on %T", c.index, c.model)
		}
	}
}

func TestUniqueConstraints(t *testing.T) {
	db := newDomainDB(t)

	role := &Role{Name: RoleUser}
	if err := db.Create(role).Error; err != nil {
		t.Fatalf("insert role: %v", err)
	}
	u := &User{Username: "alice", PasswordHash: "h", RoleID: role.ID}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := db.Create(&User{Username: "alice", PasswordHash: "h", RoleID: role.ID}).Error; err == nil {
		t.Fatalf("expected unique violation on username")
	}

	c1 := &Calendar{UserID: u.ID, Availability: datatypes.JSON(`{"monday":["09:00-12:00"]}`)}
	if err := db.Create(c1).Error; err != nil {
		t.Fatalf("insert calendar: %v", err)
	}
	if err := db.Create(&Calendar{UserID: u.ID, Availability: datatypes.JSON(`{}`)}).Error; err == nil {
		t.Fatalf("expected unique violation on calendars.user_id")
	}
}

func TestFriendship_StatusCheck_AndOther(t *testing.T) {
	db := newDomainDB(t)

	role := &Role{Name: RoleUser}
	_ = db.Create(role).Error
	a := &User{Username: "amy", PasswordHash: "h", RoleID: role.ID}
	b := &User{Username: "bob", PasswordHash: "h", RoleID: role.ID}
	_ = db.Create(a).Error
	_ = db.Create(b).Error

	f := &Friendship{RequesterID: a.ID, ReceiverID: b.ID}
	if err := db.Create(f).Error; err != nil {
		t.Fatalf("insert friendship: %v", err)
	}
	if f.Status != FriendshipPending {
		t.Fatalf("default status = %q; want PENDING", f.Status)
	}
	if err := db.Model(f).Update("status", "BLOCKED").Error; err == nil {
		t.Fatalf("expected CHECK violation for unknown status")
	}

	if f.Other(a.ID) != b.ID || f.Other(b.ID) != a.ID {
		t.Fatalf("Other() returned wrong party")
	}
}

func TestUser_RoleName(t *testing.T) {
	if (User{}).RoleName() != "" {
		t.Fatalf("RoleName without preload should be empty")
	}
	u := User{Role: &Role{Name: RoleAdmin}}
	if u.RoleName() != RoleAdmin {
		t.Fatalf("RoleName = %q", u.RoleName())
	}
}

func TestQuery_TargetsRoundTrip(t *testing.T) {
	db := newDomainDB(t)

	role := &Role{Name: RoleUser}
	_ = db.Create(role).Error
	qt := &QueryType{Name: QueryTypePrompt}
	_ = db.Create(qt).Error
	a := &User{Username: "amy", PasswordHash: "h", RoleID: role.ID}
	b := &User{Username: "bob", PasswordHash: "h", RoleID: role.ID}
	_ = db.Create(a).Error
	_ = db.Create(b).Error

	res := "free tuesday"
	q := &Query{UserID: a.ID, TypeID: qt.ID, Content: "when?", Result: &res}
	if err := db.Create(q).Error; err != nil {
		t.Fatalf("insert query: %v", err)
	}
	if err := db.Create(&QueryUser{QueryID: q.ID, UserID: b.ID}).Error; err != nil {
		t.Fatalf("insert query_user: %v", err)
	}
	if err := db.Create(&QueryUser{QueryID: q.ID, UserID: b.ID}).Error; err == nil {
		t.Fatalf("expected composite primary key violation")
	}

	var got Query
	if err := db.Preload("Targets.User").Preload("Type").First(&got, q.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Targets) != 1 || got.Targets[0].User == nil || got.Targets[0].User.Username != "bob" {
		t.Fatalf("unexpected targets: %+v", got.Targets)
	}
	if got.Type == nil || got.Type.Name != QueryTypePrompt {
		t.Fatalf("unexpected type: %+v", got.Type)
	}
}
