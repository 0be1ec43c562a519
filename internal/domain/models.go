// Package domain defines the persistence models for users, roles, calendars,
// availability queries, and friendships. These types are mapped with GORM and
// form the core data layer of the calendar-sharing application.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Role names seeded by the reference-data migration.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Query type names seeded by the reference-data migration.
const (
	QueryTypePrompt = "PROMPT"
	QueryTypeAnswer = "ANSWER"
)

// FriendshipStatus is the lifecycle state of a friendship row.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
	FriendshipDeclined FriendshipStatus = "DECLINED"
)

// Role is a named permission level. Roles are seeded once and never mutated
// by the application.
type Role struct {
	ID   uint   `json:"id"   gorm:"primaryKey"`
	Name string `json:"name" gorm:"type:varchar(32);not null;uniqueIndex:ux_roles_name"`
}

// TableName returns the database table name for Role.
func (Role) TableName() string { return "roles" }

// User is an account holder. The password hash is never serialized.
//
// Fields:
//   - ID: auto-increment primary key.
//   - Username: unique, at least three characters after normalization.
//   - PasswordHash: bcrypt hash of the password.
//   - RoleID: foreign key to roles.
//   - Role: optional preloaded association.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID           uint      `json:"id"       gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	PasswordHash string    `json:"-"        gorm:"type:varchar(255);not null"`
	RoleID       uint      `json:"roleId"   gorm:"not null;index"`
	Role         *Role     `json:"role,omitempty" gorm:"foreignKey:RoleID;references:ID"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// RoleName returns the preloaded role name, or "" when Role was not loaded.
func (u User) RoleName() string {
	if u.Role == nil {
		return ""
	}
	return u.Role.Name
}

// Calendar holds one user's availability as produced by the assistant.
// The payload is opaque to the application and stored verbatim; a user owns
// at most one calendar (unique user_id).
type Calendar struct {
	ID           uint           `json:"id"           gorm:"primaryKey"`
	UserID       uint           `json:"userId"       gorm:"not null;uniqueIndex:ux_calendars_user"`
	Availability datatypes.JSON `json:"availability" gorm:"not null"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

// TableName returns the database table name for Calendar.
func (Calendar) TableName() string { return "calendars" }

// QueryType categorizes a query (PROMPT or ANSWER).
type QueryType struct {
	ID   uint   `json:"id"   gorm:"primaryKey"`
	Name string `json:"name" gorm:"type:varchar(32);not null;uniqueIndex:ux_query_types_name"`
}

// TableName returns the database table name for QueryType.
func (QueryType) TableName() string { return "query_types" }

// Query is an immutable record of a question asked about a set of users and
// the assistant's answer.
//
// Fields:
//   - UserID: requester.
//   - TypeID: foreign key to query_types.
//   - Content: the natural-language question.
//   - Result: assistant answer; nil only for rows written outside the service.
//   - Targets: one QueryUser row per target user.
type Query struct {
	ID        uint      `json:"id"        gorm:"primaryKey"`
	UserID    uint      `json:"userId"    gorm:"not null;index:idx_queries_user_created,priority:1"`
	TypeID    uint      `json:"typeId"    gorm:"not null;index"`
	Content   string    `json:"content"   gorm:"type:text;not null"`
	Result    *string   `json:"result"    gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"index;index:idx_queries_user_created,priority:2"`

	User    *User       `json:"user,omitempty"    gorm:"foreignKey:UserID;references:ID"`
	Type    *QueryType  `json:"type,omitempty"    gorm:"foreignKey:TypeID;references:ID"`
	Targets []QueryUser `json:"targets,omitempty" gorm:"foreignKey:QueryID;references:ID"`
}

// TableName returns the database table name for Query.
func (Query) TableName() string { return "queries" }

// QueryUser links a query to one of its target users.
type QueryUser struct {
	QueryID uint `json:"queryId" gorm:"primaryKey;autoIncrement:false"`
	UserID  uint `json:"userId"  gorm:"primaryKey;autoIncrement:false;index"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

// TableName returns the database table name for QueryUser.
func (QueryUser) TableName() string { return "query_users" }

// Friendship is a directed request between two users. At most one row exists
// per unordered pair; the service checks both directions before inserting.
type Friendship struct {
	ID          uint             `json:"id"          gorm:"primaryKey"`
	RequesterID uint             `json:"requesterId" gorm:"not null;uniqueIndex:ux_friendships_pair,priority:1;index"`
	ReceiverID  uint             `json:"receiverId"  gorm:"not null;uniqueIndex:ux_friendships_pair,priority:2;index"`
	Status      FriendshipStatus `json:"status"      gorm:"type:varchar(16);not null;default:'PENDING';check:status IN ('PENDING','ACCEPTED','DECLINED')"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	Requester *User `json:"requester,omitempty" gorm:"foreignKey:RequesterID;references:ID"`
	Receiver  *User `json:"receiver,omitempty"  gorm:"foreignKey:ReceiverID;references:ID"`
}

// TableName returns the database table name for Friendship.
func (Friendship) TableName() string { return "friendships" }

// Other returns the id of the party that is not userID.
func (f Friendship) Other(userID uint) uint {
	if f.RequesterID == userID {
		return f.ReceiverID
	}
	return f.RequesterID
}
