package models

import (
	"fmt"
	"time"
)

// FriendRequestStatus 定义好友请求的状态
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

// FriendRequest 代表一个好友请求记录。
// 每个有序 (SenderID, RecipientID) 至多一条 pending 或 accepted 的请求：
// 这两种状态下 OpenKey 为 "<sender>:<recipient>" 并带唯一索引，被拒绝时置空。
type FriendRequest struct {
	BaseModel
	SenderID    uint                `gorm:"not null;index:idx_friend_request_users" json:"senderId"`
	RecipientID uint                `gorm:"not null;index:idx_friend_request_users" json:"recipientId"`
	OpenKey     *string             `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	Status      FriendRequestStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Message     string              `gorm:"type:text" json:"message,omitempty"`
	RespondedAt *time.Time          `json:"respondedAt,omitempty"`
}

// TableName 指定 FriendRequest 模型的表名。
func (FriendRequest) TableName() string {
	return "friend_requests"
}

// OpenKeyFor returns the uniqueness key of an open request from sender to
// recipient. Unlike PairKeyFor the order matters.
func OpenKeyFor(senderID, recipientID uint) string {
	return fmt.Sprintf("%d:%d", senderID, recipientID)
}

// IsOpen reports whether the request still blocks a new one for the same pair.
func (r *FriendRequest) IsOpen() bool {
	return r.Status == FriendRequestPending || r.Status == FriendRequestAccepted
}

// FriendRequestWithSender is a friend request with the sender's public info.
type FriendRequestWithSender struct {
	FriendRequest
	Sender *UserBasicInfo `json:"sender"`
}

// Friendship 表示两个用户之间的好友关系，UserID1 < UserID2。
type Friendship struct {
	BaseModel
	UserID1 uint `gorm:"not null;uniqueIndex:idx_friendship_users" json:"userId1"`
	UserID2 uint `gorm:"not null;uniqueIndex:idx_friendship_users" json:"userId2"`
}

// TableName 指定 Friendship 模型的表名。
func (Friendship) TableName() string {
	return "friendships"
}

// NewFriendship builds a friendship in canonical order.
func NewFriendship(a, b uint) *Friendship {
	lo, hi := CanonicalPair(a, b)
	return &Friendship{UserID1: lo, UserID2: hi}
}
