package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-chat/internal/models"
)

// GroupRepository 定义了群组数据操作的接口。
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	// GetGroupByID 通过ID检索群组，成员按加入顺序排列。
	GetGroupByID(ctx context.Context, id uint) (*models.Group, error)
	// GetGroupForUpdate 与 GetGroupByID 相同，但锁定群组行，须在事务中调用。
	GetGroupForUpdate(ctx context.Context, id uint) (*models.Group, error)
	UpdateGroup(ctx context.Context, group *models.Group) error
	SetAdmin(ctx context.Context, groupID, adminID uint) error
	UpdateLastMessage(ctx context.Context, groupID, messageID uint, at time.Time) error
	DeleteGroup(ctx context.Context, id uint) error

	// AddMembers 插入成员，已存在的成员被忽略。
	AddMembers(ctx context.Context, groupID uint, userIDs []uint, at time.Time) error
	RemoveMember(ctx context.Context, groupID uint, userID uint) error
	DeleteMembers(ctx context.Context, groupID uint) error
	IsMember(ctx context.Context, groupID uint, userID uint) (bool, error)
	GetUserGroups(ctx context.Context, userID uint, limit int, offset int) ([]*models.Group, error)
	GetUserGroupIDs(ctx context.Context, userID uint) ([]uint, error)
}

// gormGroupRepository 使用 GORM 实现 GroupRepository。
type gormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository 创建一个新的基于 GORM 的 GroupRepository。
func NewGormGroupRepository(db *gorm.DB) GroupRepository {
	return &gormGroupRepository{db: db}
}

func orderedMembers(db *gorm.DB) *gorm.DB {
	return db.Order("group_members.id ASC")
}

// CreateGroup 创建群组及其初始成员。
func (r *gormGroupRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	db := r.db.WithContext(ctx)
	members := group.Members
	group.Members = nil
	if err := db.Create(group).Error; err != nil {
		return err
	}
	for i := range members {
		members[i].GroupID = group.ID
	}
	if len(members) > 0 {
		if err := db.Create(&members).Error; err != nil {
			return err
		}
	}
	group.Members = members
	return nil
}

func (r *gormGroupRepository) GetGroupByID(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).Preload("Members", orderedMembers).First(&group, id).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *gormGroupRepository) GetGroupForUpdate(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Members", orderedMembers).
		First(&group, id).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroup 更新群组的名称、描述和图片。
func (r *gormGroupRepository) UpdateGroup(ctx context.Context, group *models.Group) error {
	return r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", group.ID).
		Updates(map[string]interface{}{
			"name":        group.Name,
			"description": group.Description,
			"image_url":   group.ImageURL,
		}).Error
}

func (r *gormGroupRepository) SetAdmin(ctx context.Context, groupID, adminID uint) error {
	return r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).
		Update("admin_id", adminID).Error
}

func (r *gormGroupRepository) UpdateLastMessage(ctx context.Context, groupID, messageID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at,
		}).Error
}

// DeleteGroup 删除群组。成员须已先删除。
func (r *gormGroupRepository) DeleteGroup(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Group{}, id).Error
}

func (r *gormGroupRepository) AddMembers(ctx context.Context, groupID uint, userIDs []uint, at time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]models.GroupMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, models.GroupMember{GroupID: groupID, UserID: id, JoinedAt: at})
	}
	// 使用 OnConflict 忽略已存在的成员
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
}

// RemoveMember 从群组中移除成员。
func (r *gormGroupRepository) RemoveMember(ctx context.Context, groupID uint, userID uint) error {
	return r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.GroupMember{}).Error
}

func (r *gormGroupRepository) DeleteMembers(ctx context.Context, groupID uint) error {
	return r.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error
}

func (r *gormGroupRepository) IsMember(ctx context.Context, groupID uint, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetUserGroups 获取用户加入的所有群组列表，按更新时间倒序。
func (r *gormGroupRepository) GetUserGroups(ctx context.Context, userID uint, limit int, offset int) ([]*models.Group, error) {
	var groups []*models.Group
	dbQuery := r.db.WithContext(ctx).
		Joins("JOIN group_members gm ON gm.group_id = groups.id").
		Where("gm.user_id = ?", userID).
		Order("groups.updated_at DESC").
		Preload("Members", orderedMembers)

	if limit > 0 {
		dbQuery = dbQuery.Limit(limit)
	}
	if offset > 0 {
		dbQuery = dbQuery.Offset(offset)
	}

	err := dbQuery.Find(&groups).Error
	return groups, err
}

func (r *gormGroupRepository) GetUserGroupIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error
	return ids, err
}
