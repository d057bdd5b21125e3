package models

import "time"

// MessageType distinguishes user-authored messages from system notices.
type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageSystem MessageType = "system"
)

// EntityLinkKind tags the optional entity reference on a message.
type EntityLinkKind string

const (
	LinkMeeting EntityLinkKind = "meeting"
	LinkContact EntityLinkKind = "contact"
	LinkTask    EntityLinkKind = "task"
)

// Valid reports whether the kind is a known entity-link kind.
func (k EntityLinkKind) Valid() bool {
	switch k {
	case LinkMeeting, LinkContact, LinkTask:
		return true
	}
	return false
}

// EntityLink references a meeting, contact, or task by id.
type EntityLink struct {
	Kind EntityLinkKind `json:"kind"`
	ID   int            `json:"id"`
}

// Message is a row in the append-only per-channel log. UserID is nil for
// system messages. Deleted rows are retained for ordering and audit with
// content blanked at read time.
type Message struct {
	ID        int             `db:"id" json:"id"`
	ChannelID int             `db:"channel_id" json:"channel_id"`
	UserID    *int            `db:"user_id" json:"user_id,omitempty"`
	Content   string          `db:"content" json:"content"`
	Type      MessageType     `db:"type" json:"type"`
	ReplyToID *int            `db:"reply_to_id" json:"reply_to_id,omitempty"`
	LinkKind  *EntityLinkKind `db:"link_kind" json:"link_kind,omitempty"`
	LinkID    *int            `db:"link_id" json:"link_id,omitempty"`
	IsEdited  bool            `db:"is_edited" json:"is_edited"`
	IsDeleted bool            `db:"is_deleted" json:"is_deleted"`
	IsPinned  bool            `db:"is_pinned" json:"is_pinned"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`

	AuthorName string     `db:"author_name" json:"author_name,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
}

// Sanitize blanks the display content of soft-deleted messages so the row
// keeps its place in the thread without ever returning the original text.
func (m *Message) Sanitize() {
	if m.IsDeleted {
		m.Content = ""
	}
}

// Reaction is one user's emoji reaction to a message, set semantics.
type Reaction struct {
	MessageID int    `db:"message_id" json:"message_id"`
	UserID    int    `db:"user_id" json:"user_id"`
	Emoji     string `db:"emoji" json:"emoji"`
}

// ReadCursor records the last message a user has read in a channel.
type ReadCursor struct {
	ChannelID  int `db:"channel_id" json:"channel_id"`
	UserID     int `db:"user_id" json:"user_id"`
	LastReadID int `db:"last_read_id" json:"last_read_id"`
}

// User is a read-only row from the identity system's directory replica.
type User struct {
	ID          int    `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	OrgID       *int   `db:"org_id" json:"org_id,omitempty"`
}
