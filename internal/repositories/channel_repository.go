package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"comms-service/internal/apperr"
	"comms-service/internal/models"
)

const channelColumns = `id, type, parent_channel_id, org_id, name, description, avatar, is_pinned, created_by, created_at, updated_at`

// ChannelRepository abstracts channel and membership persistence.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, ch models.Channel, memberIDs []int) (models.Channel, error)
	GetOrCreateDirect(ctx context.Context, userID, otherID int) (models.Channel, bool, error)
	GetChannel(ctx context.Context, channelID int) (models.Channel, error)
	ListChannelsForUser(ctx context.Context, userID int) ([]models.ChannelSummary, error)
	UpdateChannel(ctx context.Context, channelID int, fields models.ChannelUpdate) (models.Channel, error)
	SetChannelPinned(ctx context.Context, channelID int, pinned bool) error

	GetMembership(ctx context.Context, channelID, userID int) (models.Membership, error)
	ListMembers(ctx context.Context, channelID int) ([]models.Member, error)
	MemberIDs(ctx context.Context, channelID int) ([]int, error)
	AddMember(ctx context.Context, channelID, userID int, role models.Role) error
	RemoveMember(ctx context.Context, channelID, userID int) error
	SubChannelIDs(ctx context.Context, parentChannelID int) ([]int, error)
	SharedChannelUserIDs(ctx context.Context, userID int) ([]int, error)
}

// ChannelRepo is a sqlx implementation of ChannelRepository.
type ChannelRepo struct {
	db *sqlx.DB
}

// NewChannelRepo constructs a ChannelRepo.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

// CreateChannel persists a channel plus its initial memberships in one
// transaction. The creator becomes owner; remaining ids become members.
func (r *ChannelRepo) CreateChannel(ctx context.Context, ch models.Channel, memberIDs []int) (models.Channel, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Channel{}, apperr.Transient(err)
	}
	defer tx.Rollback()

	var created models.Channel
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO channels (type, parent_channel_id, org_id, name, description, avatar, created_by)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING `+channelColumns,
		ch.Type, ch.ParentChannelID, ch.OrgID, ch.Name, ch.Description, ch.Avatar, ch.CreatedBy).
		StructScan(&created)
	if err != nil {
		return models.Channel{}, apperr.Transient(err)
	}

	if err := insertMembership(ctx, tx, created.ID, ch.CreatedBy, models.RoleOwner); err != nil {
		return models.Channel{}, err
	}
	for _, id := range memberIDs {
		if id == ch.CreatedBy {
			continue
		}
		if err := insertMembership(ctx, tx, created.ID, id, models.RoleMember); err != nil {
			return models.Channel{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Channel{}, apperr.Transient(err)
	}
	return created, nil
}

// GetOrCreateDirect returns the direct channel between two users, creating
// it when absent. The second return value reports whether it already
// existed. Uniqueness rides on a canonical key over the unordered pair.
func (r *ChannelRepo) GetOrCreateDirect(ctx context.Context, userID, otherID int) (models.Channel, bool, error) {
	if userID == otherID {
		return models.Channel{}, false, fmt.Errorf("%w: direct channel with self", apperr.ErrInvalidState)
	}
	lo, hi := userID, otherID
	if lo > hi {
		lo, hi = hi, lo
	}
	key := fmt.Sprintf("%d:%d", lo, hi)

	var ch models.Channel
	err := r.db.GetContext(ctx, &ch,
		`SELECT `+channelColumns+` FROM channels WHERE type='direct' AND direct_key=$1`, key)
	if err == nil {
		return ch, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, false, apperr.Transient(err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Channel{}, false, apperr.Transient(err)
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx,
		`INSERT INTO channels (type, org_id, created_by, direct_key)
         VALUES ('direct', NULL, $1, $2)
         RETURNING `+channelColumns,
		userID, key).StructScan(&ch)
	if err != nil {
		// Another request may have created the pair concurrently; the
		// partial unique index rejects the duplicate, so re-read it.
		if isUniqueViolation(err) {
			if gerr := r.db.GetContext(ctx, &ch,
				`SELECT `+channelColumns+` FROM channels WHERE type='direct' AND direct_key=$1`, key); gerr == nil {
				return ch, true, nil
			}
		}
		return models.Channel{}, false, apperr.Transient(err)
	}

	if err := insertMembership(ctx, tx, ch.ID, userID, models.RoleOwner); err != nil {
		return models.Channel{}, false, err
	}
	if err := insertMembership(ctx, tx, ch.ID, otherID, models.RoleMember); err != nil {
		return models.Channel{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Channel{}, false, apperr.Transient(err)
	}
	return ch, false, nil
}

// GetChannel fetches a channel by id.
func (r *ChannelRepo) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `SELECT `+channelColumns+` FROM channels WHERE id=$1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Channel{}, apperr.Transient(err)
	}
	return ch, nil
}

// ListChannelsForUser returns channels the user belongs to, joined with
// their membership role and the computed unread count.
func (r *ChannelRepo) ListChannelsForUser(ctx context.Context, userID int) ([]models.ChannelSummary, error) {
	query := `SELECT c.id, c.type, c.parent_channel_id, c.org_id, c.name, c.description, c.avatar,
            c.is_pinned, c.created_by, c.created_at, c.updated_at, cm.role,
            (SELECT COUNT(*) FROM messages m
             WHERE m.channel_id = c.id
               AND m.id > COALESCE((SELECT rc.last_read_id FROM read_cursors rc
                                    WHERE rc.channel_id = c.id AND rc.user_id = $1), 0)
               AND (m.user_id IS NULL OR m.user_id <> $1)) AS unread_count
        FROM channels c
        JOIN channel_members cm ON cm.channel_id = c.id AND cm.user_id = $1
        ORDER BY c.is_pinned DESC, c.updated_at DESC`
	var result []models.ChannelSummary
	if err := r.db.SelectContext(ctx, &result, query, userID); err != nil {
		return nil, apperr.Transient(err)
	}
	return result, nil
}

// UpdateChannel applies the non-nil fields and bumps updated_at.
func (r *ChannelRepo) UpdateChannel(ctx context.Context, channelID int, fields models.ChannelUpdate) (models.Channel, error) {
	var ch models.Channel
	err := r.db.QueryRowxContext(ctx,
		`UPDATE channels SET
            name = COALESCE($2, name),
            description = COALESCE($3, description),
            avatar = COALESCE($4, avatar),
            updated_at = NOW()
         WHERE id=$1
         RETURNING `+channelColumns,
		channelID, fields.Name, fields.Description, fields.Avatar).StructScan(&ch)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Channel{}, apperr.Transient(err)
	}
	return ch, nil
}

// SetChannelPinned flips the pinned flag.
func (r *ChannelRepo) SetChannelPinned(ctx context.Context, channelID int, pinned bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE channels SET is_pinned=$2, updated_at=NOW() WHERE id=$1`, channelID, pinned)
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
}

// GetMembership fetches the membership row for a user in a channel.
func (r *ChannelRepo) GetMembership(ctx context.Context, channelID, userID int) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m,
		`SELECT channel_id, user_id, role, is_default, created_at
         FROM channel_members WHERE channel_id=$1 AND user_id=$2`, channelID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, apperr.ErrNotAMember
	}
	if err != nil {
		return models.Membership{}, apperr.Transient(err)
	}
	return m, nil
}

// ListMembers returns memberships joined with directory display names.
func (r *ChannelRepo) ListMembers(ctx context.Context, channelID int) ([]models.Member, error) {
	var members []models.Member
	err := r.db.SelectContext(ctx, &members,
		`SELECT cm.user_id, COALESCE(u.display_name, '') AS display_name, cm.role, cm.is_default
         FROM channel_members cm
         LEFT JOIN users u ON u.id = cm.user_id
         WHERE cm.channel_id=$1
         ORDER BY cm.created_at ASC`, channelID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return members, nil
}

// MemberIDs returns the ids of all members of a channel, for fan-out.
func (r *ChannelRepo) MemberIDs(ctx context.Context, channelID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM channel_members WHERE channel_id=$1 ORDER BY created_at ASC`, channelID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return ids, nil
}

// AddMember inserts a membership row, failing when one already exists.
func (r *ChannelRepo) AddMember(ctx context.Context, channelID, userID int, role models.Role) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, $3)
         ON CONFLICT (channel_id, user_id) DO NOTHING`, channelID, userID, role)
	if err != nil {
		return apperr.Transient(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return apperr.Transient(err)
	}
	if count == 0 {
		return apperr.ErrAlreadyMember
	}
	return nil
}

// RemoveMember deletes a membership row, failing when none exists.
func (r *ChannelRepo) RemoveMember(ctx context.Context, channelID, userID int) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id=$1 AND user_id=$2`, channelID, userID)
	if err != nil {
		return apperr.Transient(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return apperr.Transient(err)
	}
	if count == 0 {
		return apperr.ErrNotAMember
	}
	return nil
}

// SubChannelIDs returns the ids of direct sub-channels of a deal room.
func (r *ChannelRepo) SubChannelIDs(ctx context.Context, parentChannelID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM channels WHERE parent_channel_id=$1`, parentChannelID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return ids, nil
}

// SharedChannelUserIDs returns the distinct users sharing at least one
// channel with the given user, excluding the user themselves. These are
// the presence subscribers for that user.
func (r *ChannelRepo) SharedChannelUserIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT cm.user_id FROM channel_members cm
         WHERE cm.user_id <> $1
           AND cm.channel_id IN (SELECT channel_id FROM channel_members WHERE user_id=$1)`, userID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return ids, nil
}

func insertMembership(ctx context.Context, tx *sqlx.Tx, channelID, userID int, role models.Role) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, $3)
         ON CONFLICT (channel_id, user_id) DO NOTHING`, channelID, userID, role)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
