package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
)

func TestConversationPredicates(t *testing.T) {
	c := &models.Conversation{User1ID: 1, User2ID: 2}

	assert.True(t, IsParticipant(c, 1))
	assert.True(t, IsParticipant(c, 2))
	assert.False(t, IsParticipant(c, 3))
	assert.False(t, IsParticipant(nil, 1))
	assert.False(t, IsParticipant(c, 0))

	assert.Equal(t, uint(2), OtherParticipant(c, 1))
	assert.Equal(t, uint(1), OtherParticipant(c, 2))
	assert.Zero(t, OtherParticipant(c, 3))

	assert.NoError(t, RequireParticipant(c, 1))
	assert.True(t, errors.Is(RequireParticipant(c, 3), apperr.ErrNotParticipant))
}

func TestGroupPredicates(t *testing.T) {
	g := &models.Group{AdminID: 1, Members: []models.GroupMember{{UserID: 1}, {UserID: 2}}}

	tests := []struct {
		name   string
		userID uint
		member bool
		admin  bool
	}{
		{"admin", 1, true, true},
		{"member", 2, true, false},
		{"outsider", 3, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.member, IsMember(g, tt.userID))
			assert.Equal(t, tt.admin, IsAdmin(g, tt.userID))
		})
	}

	assert.ErrorIs(t, RequireMember(g, 3), apperr.ErrNotMember)
	assert.ErrorIs(t, RequireAdmin(g, 2), apperr.ErrNotAdmin)
	assert.NoError(t, RequireAdmin(g, 1))

	// admin 不在成员中时不视为 admin
	orphan := &models.Group{AdminID: 9, Members: []models.GroupMember{{UserID: 1}}}
	assert.False(t, IsAdmin(orphan, 9))
	assert.False(t, IsMember(nil, 1))
}
