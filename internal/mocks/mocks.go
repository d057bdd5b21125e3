package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"comms-service/internal/models"
)

type ChannelRepositoryMock struct {
	mock.Mock
}

func (m *ChannelRepositoryMock) CreateChannel(ctx context.Context, ch models.Channel, memberIDs []int) (models.Channel, error) {
	args := m.Called(ctx, ch, memberIDs)
	var channel models.Channel
	if val := args.Get(0); val != nil {
		channel = val.(models.Channel)
	}
	return channel, args.Error(1)
}

func (m *ChannelRepositoryMock) GetOrCreateDirect(ctx context.Context, userID, otherID int) (models.Channel, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var channel models.Channel
	if val := args.Get(0); val != nil {
		channel = val.(models.Channel)
	}
	return channel, args.Bool(1), args.Error(2)
}

func (m *ChannelRepositoryMock) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	args := m.Called(ctx, channelID)
	var channel models.Channel
	if val := args.Get(0); val != nil {
		channel = val.(models.Channel)
	}
	return channel, args.Error(1)
}

func (m *ChannelRepositoryMock) ListChannelsForUser(ctx context.Context, userID int) ([]models.ChannelSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChannelSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChannelSummary)
	}
	return list, args.Error(1)
}

func (m *ChannelRepositoryMock) UpdateChannel(ctx context.Context, channelID int, fields models.ChannelUpdate) (models.Channel, error) {
	args := m.Called(ctx, channelID, fields)
	var channel models.Channel
	if val := args.Get(0); val != nil {
		channel = val.(models.Channel)
	}
	return channel, args.Error(1)
}

func (m *ChannelRepositoryMock) SetChannelPinned(ctx context.Context, channelID int, pinned bool) error {
	args := m.Called(ctx, channelID, pinned)
	return args.Error(0)
}

func (m *ChannelRepositoryMock) GetMembership(ctx context.Context, channelID, userID int) (models.Membership, error) {
	args := m.Called(ctx, channelID, userID)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Error(1)
}

func (m *ChannelRepositoryMock) ListMembers(ctx context.Context, channelID int) ([]models.Member, error) {
	args := m.Called(ctx, channelID)
	var members []models.Member
	if val := args.Get(0); val != nil {
		members = val.([]models.Member)
	}
	return members, args.Error(1)
}

func (m *ChannelRepositoryMock) MemberIDs(ctx context.Context, channelID int) ([]int, error) {
	args := m.Called(ctx, channelID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ChannelRepositoryMock) AddMember(ctx context.Context, channelID, userID int, role models.Role) error {
	args := m.Called(ctx, channelID, userID, role)
	return args.Error(0)
}

func (m *ChannelRepositoryMock) RemoveMember(ctx context.Context, channelID, userID int) error {
	args := m.Called(ctx, channelID, userID)
	return args.Error(0)
}

func (m *ChannelRepositoryMock) SubChannelIDs(ctx context.Context, parentChannelID int) ([]int, error) {
	args := m.Called(ctx, parentChannelID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ChannelRepositoryMock) SharedChannelUserIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Error(1)
}

func (m *MessageRepositoryMock) CreateSystemMessage(ctx context.Context, channelID int, content string) (models.Message, error) {
	args := m.Called(ctx, channelID, content)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, channelID, beforeID, limit int) ([]models.Message, error) {
	args := m.Called(ctx, channelID, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, channelID, messageID, actorID int, content string) (models.Message, error) {
	args := m.Called(ctx, channelID, messageID, actorID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDeleteMessage(ctx context.Context, channelID, messageID, actorID int) error {
	args := m.Called(ctx, channelID, messageID, actorID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SetMessagePinned(ctx context.Context, channelID, messageID, actorID int, pinned bool) error {
	args := m.Called(ctx, channelID, messageID, actorID, pinned)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ToggleReaction(ctx context.Context, channelID, messageID, userID int, emoji string) (bool, error) {
	args := m.Called(ctx, channelID, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListReactions(ctx context.Context, messageIDs []int) (map[int][]models.Reaction, error) {
	args := m.Called(ctx, messageIDs)
	var reactions map[int][]models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.(map[int][]models.Reaction)
	}
	return reactions, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, channelID, userID int) (int, error) {
	args := m.Called(ctx, channelID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, channelID, userID int) (int, error) {
	args := m.Called(ctx, channelID, userID)
	return args.Int(0), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) BulkUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}
