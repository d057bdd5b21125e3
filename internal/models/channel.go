package models

import "time"

// ChannelType enumerates the kinds of channels the service supports.
type ChannelType string

const (
	ChannelDirect       ChannelType = "direct"
	ChannelGroup        ChannelType = "group"
	ChannelDealRoom     ChannelType = "deal_room"
	ChannelAnnouncement ChannelType = "announcement"
)

// Valid reports whether the type is one of the known channel types.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelDirect, ChannelGroup, ChannelDealRoom, ChannelAnnouncement:
		return true
	}
	return false
}

// Channel is a persisted conversation container. Direct channels carry no
// org scope; sub-channels reference a deal_room parent.
type Channel struct {
	ID              int         `db:"id" json:"id"`
	Type            ChannelType `db:"type" json:"type"`
	ParentChannelID *int        `db:"parent_channel_id" json:"parent_channel_id,omitempty"`
	OrgID           *int        `db:"org_id" json:"org_id,omitempty"`
	Name            string      `db:"name" json:"name"`
	Description     string      `db:"description" json:"description,omitempty"`
	Avatar          string      `db:"avatar" json:"avatar,omitempty"`
	IsPinned        bool        `db:"is_pinned" json:"is_pinned"`
	CreatedBy       int         `db:"created_by" json:"created_by"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// ChannelUpdate carries the mutable channel fields for updateChannel.
// Nil pointers leave the stored value untouched.
type ChannelUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// Role enumerates membership roles, strongest first.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// CanModerate reports whether the role may pin messages, update the
// channel, or manage members.
func (r Role) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Membership ties a user to a channel with a role.
type Membership struct {
	ChannelID int       `db:"channel_id" json:"channel_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Role      Role      `db:"role" json:"role"`
	IsDefault bool      `db:"is_default" json:"is_default"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Member is a membership joined with directory identity for API responses.
type Member struct {
	UserID      int    `db:"user_id" json:"user_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Role        Role   `db:"role" json:"role"`
	IsDefault   bool   `db:"is_default" json:"is_default"`
}

// ChannelSummary is the enriched listChannels row: channel plus the
// caller's membership and computed unread count.
type ChannelSummary struct {
	Channel
	Role        Role `db:"role" json:"role"`
	UnreadCount int  `db:"unread_count" json:"unread_count"`
}
