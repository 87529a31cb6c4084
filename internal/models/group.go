package models

import "time"

// Group 代表一个聊天群组。AdminID 始终是 Members 中的一员。
type Group struct {
	BaseModel
	Name          string     `gorm:"type:varchar(100);not null" json:"name"`
	Description   string     `gorm:"type:text" json:"description,omitempty"`
	ImageURL      string     `gorm:"type:varchar(255)" json:"imageUrl,omitempty"`
	AdminID       uint       `gorm:"not null;index" json:"adminId"`
	LastMessageID *uint      `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`

	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// TableName 指定 Group 模型的表名。
func (Group) TableName() string {
	return "groups"
}

// MemberIDs returns the loaded member user IDs in membership order.
func (g *Group) MemberIDs() []uint {
	ids := make([]uint, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// GroupMember 将用户链接到群组。ID 递增，最小的 ID 即最早加入的成员。
type GroupMember struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	GroupID  uint      `gorm:"not null;uniqueIndex:idx_group_member" json:"groupId"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_group_member;index" json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// TableName 指定 GroupMember 模型的表名。
func (GroupMember) TableName() string {
	return "group_members"
}
