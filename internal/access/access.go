// Package access holds the authorization predicates for conversations and
// groups. They operate on already-loaded models and perform no I/O.
package access

import (
	"im-chat/internal/apperr"
	"im-chat/internal/models"
)

// IsParticipant reports whether userID is one of the two conversation users.
func IsParticipant(c *models.Conversation, userID uint) bool {
	if c == nil || userID == 0 {
		return false
	}
	return c.User1ID == userID || c.User2ID == userID
}

// OtherParticipant returns the conversation user that is not userID.
// The result is 0 when userID is not a participant.
func OtherParticipant(c *models.Conversation, userID uint) uint {
	switch {
	case !IsParticipant(c, userID):
		return 0
	case c.User1ID == userID:
		return c.User2ID
	default:
		return c.User1ID
	}
}

// IsMember reports whether userID is in the group's loaded member set.
func IsMember(g *models.Group, userID uint) bool {
	if g == nil || userID == 0 {
		return false
	}
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID is the group admin and still a member.
func IsAdmin(g *models.Group, userID uint) bool {
	return g != nil && g.AdminID == userID && IsMember(g, userID)
}

func RequireParticipant(c *models.Conversation, userID uint) error {
	if !IsParticipant(c, userID) {
		return apperr.ErrNotParticipant
	}
	return nil
}

func RequireMember(g *models.Group, userID uint) error {
	if !IsMember(g, userID) {
		return apperr.ErrNotMember
	}
	return nil
}

func RequireAdmin(g *models.Group, userID uint) error {
	if !IsAdmin(g, userID) {
		return apperr.ErrNotAdmin
	}
	return nil
}
