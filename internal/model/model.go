package model

import (
	"time"
)

const (
	RoleChild  = "child"
	RoleParent = "parent"
	RoleAdmin  = "admin"
)

const (
	LinkPending  = "PENDING"
	LinkAccepted = "ACCEPTED"
	LinkDeclined = "DECLINED"
	LinkRevoked  = "REVOKED"
)

// Audit action vocabulary. Fixed set, stored as text.
const (
	ActionViewChildLocation = "VIEW_CHILD_LOCATION"
	ActionLocationUpdate    = "LOCATION_UPDATE"
	ActionLinkRequested     = "LINK_REQUESTED"
	ActionLinkAccepted      = "LINK_ACCEPTED"
	ActionLinkDeclined      = "LINK_DECLINED"
	ActionConsentGranted    = "CONSENT_GRANTED"
	ActionConsentRevoked    = "CONSENT_REVOKED"
	ActionRevokeParent      = "REVOKE_PARENT"
	ActionExportData        = "EXPORT_DATA"
	ActionDeleteAccount     = "DELETE_ACCOUNT"
)

type User struct {
	Id                 string     `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	Role               string     `json:"role"`
	ConsentGiven       bool       `json:"consent_given"`
	ConsentTextVersion *string    `json:"consent_text_version,omitempty"`
	ConsentAt          *time.Time `json:"consent_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

type Link struct {
	Id        string    `json:"id"`
	ParentId  string    `json:"parent_id"`
	ChildId   string    `json:"child_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ping is one immutable location observation. ServerTime is stamped at
// ingestion, Ts is the observation time carried by the payload (or the
// server time when the payload has none).
type Ping struct {
	Id         int64     `json:"id"`
	UserId     string    `json:"user_id"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Ts         time.Time `json:"ts"`
	ServerTime time.Time `json:"server_time"`
}

// LatestLocation is the compacted current position, one row per child.
type LatestLocation struct {
	UserId    string    `json:"user_id"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Ts        time.Time `json:"ts"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuditEntry struct {
	Id        int64             `json:"id"`
	ActorId   string            `json:"actor_id"`
	ActorRole string            `json:"actor_role"`
	ChildId   *string           `json:"child_id,omitempty"`
	Action    string            `json:"action"`
	Meta      map[string]string `json:"meta,omitempty"`
	Ts        time.Time         `json:"timestamp"`
}
