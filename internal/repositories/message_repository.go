package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"comms-service/internal/apperr"
	"comms-service/internal/models"
)

const messageColumns = `m.id, m.channel_id, m.user_id, m.content, m.type, m.reply_to_id,
        m.link_kind, m.link_id, m.is_edited, m.is_deleted, m.is_pinned, m.created_at`

// MessageRepository defines interactions with the per-channel message log.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	CreateSystemMessage(ctx context.Context, channelID int, content string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, channelID, beforeID, limit int) ([]models.Message, error)
	EditMessage(ctx context.Context, channelID, messageID, actorID int, content string) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, channelID, messageID, actorID int) error
	SetMessagePinned(ctx context.Context, channelID, messageID, actorID int, pinned bool) error
	ToggleReaction(ctx context.Context, channelID, messageID, userID int, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageIDs []int) (map[int][]models.Reaction, error)
	MarkRead(ctx context.Context, channelID, userID int) (int, error)
	UnreadCount(ctx context.Context, channelID, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// memberTx re-checks channel membership under FOR SHARE and runs fn in
// the same transaction. The shared lock pins the membership row until
// commit, so a removal racing the write either waits or the write never
// happens; a gate check that passed moments earlier is not trusted here.
func (r *MessageRepo) memberTx(ctx context.Context, channelID, userID int, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Transient(err)
	}
	defer tx.Rollback()

	var member bool
	err = tx.GetContext(ctx, &member,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id=$1 AND user_id=$2 FOR SHARE)`,
		channelID, userID)
	if err != nil {
		return apperr.Transient(err)
	}
	if !member {
		return apperr.ErrForbidden
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// CreateMessage inserts a user message. The membership check and the
// insert share one transaction so a concurrent removal between check and
// write cannot leave a message from a non-member.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var created models.Message
	err := r.memberTx(ctx, msg.ChannelID, *msg.UserID, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO messages (channel_id, user_id, content, type, reply_to_id, link_kind, link_id)
             VALUES ($1, $2, $3, 'user', $4, $5, $6)
             RETURNING id, channel_id, user_id, content, type, reply_to_id,
                link_kind, link_id, is_edited, is_deleted, is_pinned, created_at`,
			msg.ChannelID, msg.UserID, msg.Content, msg.ReplyToID, msg.LinkKind, msg.LinkID).
			StructScan(&created)
		if err != nil {
			return apperr.Transient(err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE channels SET updated_at=NOW() WHERE id=$1`, msg.ChannelID); err != nil {
			return apperr.Transient(err)
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return created, nil
}

// CreateSystemMessage inserts a system notice authored by no user. The
// content is fully resolved by the caller at write time.
func (r *MessageRepo) CreateSystemMessage(ctx context.Context, channelID int, content string) (models.Message, error) {
	var created models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (channel_id, user_id, content, type)
         VALUES ($1, NULL, $2, 'system')
         RETURNING id, channel_id, user_id, content, type, reply_to_id,
            link_kind, link_id, is_edited, is_deleted, is_pinned, created_at`,
		channelID, content).StructScan(&created)
	if err != nil {
		return models.Message{}, apperr.Transient(err)
	}
	return created, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, channel_id, user_id, content, type, reply_to_id,
            link_kind, link_id, is_edited, is_deleted, is_pinned, created_at
         FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Message{}, apperr.Transient(err)
	}
	return msg, nil
}

// ListMessages returns up to limit messages older than beforeID in
// descending id order, joined with author display names. beforeID <= 0
// means "from the newest". Soft-deleted rows come back with their stored
// content; callers blank it before returning to clients.
func (r *MessageRepo) ListMessages(ctx context.Context, channelID, beforeID, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `, COALESCE(u.display_name, '') AS author_name
        FROM messages m
        LEFT JOIN users u ON u.id = m.user_id
        WHERE m.channel_id=$1 AND ($2 <= 0 OR m.id < $2)
        ORDER BY m.id DESC
        LIMIT $3`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, channelID, beforeID, limit); err != nil {
		return nil, apperr.Transient(err)
	}
	return msgs, nil
}

// EditMessage replaces the content and marks the message edited. Runs
// under the membership guard so an actor removed after the gate check
// cannot land the edit.
func (r *MessageRepo) EditMessage(ctx context.Context, channelID, messageID, actorID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.memberTx(ctx, channelID, actorID, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx,
			`UPDATE messages SET content=$3, is_edited=TRUE WHERE id=$1 AND channel_id=$2
             RETURNING id, channel_id, user_id, content, type, reply_to_id,
                link_kind, link_id, is_edited, is_deleted, is_pinned, created_at`,
			messageID, channelID, content).StructScan(&msg)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return apperr.Transient(err)
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// SoftDeleteMessage marks the message deleted. The row and its content
// stay for audit and thread ordering; reads blank the content.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, channelID, messageID, actorID int) error {
	return r.memberTx(ctx, channelID, actorID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET is_deleted=TRUE WHERE id=$1 AND channel_id=$2`, messageID, channelID)
		if err != nil {
			return apperr.Transient(err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return apperr.Transient(err)
		}
		if count == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

// SetMessagePinned flips the pinned flag.
func (r *MessageRepo) SetMessagePinned(ctx context.Context, channelID, messageID, actorID int, pinned bool) error {
	return r.memberTx(ctx, channelID, actorID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET is_pinned=$3 WHERE id=$1 AND channel_id=$2`, messageID, channelID, pinned)
		if err != nil {
			return apperr.Transient(err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return apperr.Transient(err)
		}
		if count == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

// ToggleReaction adds the (message, user, emoji) reaction if absent and
// removes it if present. Returns true when the reaction was added.
func (r *MessageRepo) ToggleReaction(ctx context.Context, channelID, messageID, userID int, emoji string) (bool, error) {
	var added bool
	err := r.memberTx(ctx, channelID, userID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
             ON CONFLICT (message_id, user_id, emoji) DO NOTHING`, messageID, userID, emoji)
		if err != nil {
			return apperr.Transient(err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return apperr.Transient(err)
		}
		if count > 0 {
			added = true
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
			messageID, userID, emoji); err != nil {
			return apperr.Transient(err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// ListReactions fetches reactions for a page of messages, grouped by
// message id.
func (r *MessageRepo) ListReactions(ctx context.Context, messageIDs []int) (map[int][]models.Reaction, error) {
	result := make(map[int][]models.Reaction)
	if len(messageIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(
		`SELECT message_id, user_id, emoji FROM message_reactions WHERE message_id IN (?)`, messageIDs)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	var reactions []models.Reaction
	if err := r.db.SelectContext(ctx, &reactions, r.db.Rebind(query), args...); err != nil {
		return nil, apperr.Transient(err)
	}
	for _, reaction := range reactions {
		result[reaction.MessageID] = append(result[reaction.MessageID], reaction)
	}
	return result, nil
}

// MarkRead advances the cursor to the channel's current max message id.
// GREATEST keeps the cursor monotonic when acknowledgements arrive out of
// order.
func (r *MessageRepo) MarkRead(ctx context.Context, channelID, userID int) (int, error) {
	var lastReadID int
	err := r.memberTx(ctx, channelID, userID, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO read_cursors (channel_id, user_id, last_read_id)
             VALUES ($1, $2, COALESCE((SELECT MAX(id) FROM messages WHERE channel_id=$1), 0))
             ON CONFLICT (channel_id, user_id)
                DO UPDATE SET last_read_id = GREATEST(read_cursors.last_read_id, EXCLUDED.last_read_id)
             RETURNING last_read_id`, channelID, userID).Scan(&lastReadID)
		if err != nil {
			return apperr.Transient(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return lastReadID, nil
}

// UnreadCount computes unread messages for the user: ids past the cursor,
// not authored by the user.
func (r *MessageRepo) UnreadCount(ctx context.Context, channelID, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         WHERE m.channel_id=$1
           AND m.id > COALESCE((SELECT last_read_id FROM read_cursors
                                WHERE channel_id=$1 AND user_id=$2), 0)
           AND (m.user_id IS NULL OR m.user_id <> $2)`, channelID, userID)
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return count, nil
}
