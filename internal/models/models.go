/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin    RoleName = "admin"
	RoleOperator RoleName = "operator"
	RoleViewer   RoleName = "viewer"
)

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room is a voice room whose occupancy is recorded. Rooms outside this
// registry, or registered with Tracked false, are ignored by the tracker.
type Room struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	Tracked   bool   `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is a presence subject observed in transition events. Unlike User
// it carries no credentials; it exists so queries can resolve display names
// without scanning the session table.
type Identity struct {
	ID          string `gorm:"primaryKey"`
	DisplayName string
	FirstSeen   time.Time
	LastSeen    time.Time `gorm:"index"`
}

// Session is one continuous occupancy of a room by a user.
//
// JoinTime and LeaveTime are integer Unix seconds. LeaveTime is nil while the
// session is open and is set exactly once at close, together with TimeSpent
// and TotalTime. A closed session is never reopened.
type Session struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	UserID      string `gorm:"index:idx_sessions_user_room"`
	DisplayName string
	RoomID      string `gorm:"index:idx_sessions_user_room"`
	RoomName    string
	JoinTime    int64
	LeaveTime   *int64 `gorm:"index"`
	// TimeSpent is LeaveTime-JoinTime formatted HH:MM:SS, materialized at close.
	TimeSpent string `gorm:"type:varchar(16)"`
	// TotalTime is the running total for (UserID, RoomID) including this
	// session, formatted HH:MM:SS, materialized at close.
	TotalTime string `gorm:"type:varchar(16)"`
	// Date is the local calendar date (YYYY-MM-DD) the session opened,
	// used for reporting grouping.
	Date      string `gorm:"type:varchar(10);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Closed reports whether the session has a recorded leave time.
func (s *Session) Closed() bool {
	return s.LeaveTime != nil
}

// ElapsedSeconds returns LeaveTime-JoinTime for a closed session, 0 otherwise.
func (s *Session) ElapsedSeconds() int64 {
	if s.LeaveTime == nil {
		return 0
	}
	return *s.LeaveTime - s.JoinTime
}

// DailyTotal is a materialized per-(user, room, date) rollup of closed
// session time, refreshed by the report service.
type DailyTotal struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	UserID       string `gorm:"uniqueIndex:idx_daily_user_room_date"`
	RoomID       string `gorm:"uniqueIndex:idx_daily_user_room_date"`
	Date         string `gorm:"type:varchar(10);uniqueIndex:idx_daily_user_room_date"`
	TotalSeconds int64
	Sessions     int
	UpdatedAt    time.Time
}

// APIKey is a long-lived machine credential.
type APIKey struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	UserID     string `gorm:"type:uuid;index"`
	Name       string
	KeyHash    string `gorm:"uniqueIndex"`
	KeyPrefix  string `gorm:"type:varchar(16)"`
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// IsRevoked reports whether the key was revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key is past its expiry.
func (k *APIKey) IsExpired() bool {
	return time.Now().After(k.ExpiresAt)
}

// AuditAction enumerates auditable actions.
type AuditAction string

const (
	AuditActionSessionOpen        AuditAction = "session.open"
	AuditActionSessionClose       AuditAction = "session.close"
	AuditActionIntegrityViolation AuditAction = "session.integrity_violation"
	AuditActionRoomCreate         AuditAction = "room.create"
	AuditActionRoomUpdate         AuditAction = "room.update"
	AuditActionAPIKeyCreate       AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke       AuditAction = "apikey.revoke"
	AuditActionWebhookCreate      AuditAction = "webhook.create"
	AuditActionWebhookDelete      AuditAction = "webhook.delete"
)

// AuditLog records an auditable action with its context.
type AuditLog struct {
	ID           string      `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time   `gorm:"index"`
	Action       AuditAction `gorm:"type:varchar(48);index"`
	UserID       *string     `gorm:"index"`
	RoomID       *string     `gorm:"index"`
	ResourceType string      `gorm:"type:varchar(32)"`
	ResourceID   string
	Details      map[string]any `gorm:"serializer:json"`
	CreatedAt    time.Time
}

// Webhook is a registered endpoint for presence event delivery.
type Webhook struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	URL       string
	Secret    string
	Events    string `gorm:"type:varchar(128)"` // comma-separated event names, empty = all
	Enabled   bool   `gorm:"index"`
	LastError string `gorm:"type:text"`
	LastSent  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
