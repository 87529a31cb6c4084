package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/access"
	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// CreateGroupInput 是创建群组的参数。
type CreateGroupInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	MemberIDs   []uint `json:"memberIds"`
}

// UpdateGroupInput 只更新非空字段。
type UpdateGroupInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ImageURL    *string `json:"imageUrl"`
}

// LeaveResult 描述离开群组后的群组状态。
type LeaveResult struct {
	GroupID      uint `json:"groupId"`
	GroupDeleted bool `json:"groupDeleted"`
	NewAdminID   uint `json:"newAdminId,omitempty"`
}

// GroupService 定义了群组相关服务的接口。
type GroupService interface {
	CreateGroup(ctx context.Context, creatorID uint, in CreateGroupInput) (*GroupView, error)
	GetGroup(ctx context.Context, groupID, viewerID uint) (*GroupView, error)
	ListUserGroups(ctx context.Context, userID uint, page, pageSize int) ([]*GroupView, error)
	UpdateGroup(ctx context.Context, groupID, actorID uint, in UpdateGroupInput) (*GroupView, error)
	// AddMembers 仅 admin 可调用；已是成员的用户被忽略
	AddMembers(ctx context.Context, groupID, actorID uint, userIDs []uint) (*GroupView, error)
	// RemoveMember 仅 admin 可调用；admin 不能移除自己，须使用 Leave
	RemoveMember(ctx context.Context, groupID, actorID, targetID uint) (*GroupView, error)
	// Leave 离开群组。admin 离开时先把 admin 交给最早加入的剩余成员；最后一名成员离开时删除群组。
	Leave(ctx context.Context, groupID, actorID uint) (*LeaveResult, error)
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	UserGroupIDs(ctx context.Context, userID uint) ([]uint, error)
}

type groupService struct {
	core
	groupRepo storage.GroupRepository
	userRepo  storage.UserRepository
}

// NewGroupService 创建一个新的 GroupService 实例。
func NewGroupService(
	db *gorm.DB,
	groupRepo storage.GroupRepository,
	userRepo storage.UserRepository,
	publisher EventPublisher,
	opTimeout time.Duration,
	log *zap.Logger,
) GroupService {
	return &groupService{
		core:      newCore(db, publisher, opTimeout, log.Named("group_service")),
		groupRepo: groupRepo,
		userRepo:  userRepo,
	}
}

func (s *groupService) CreateGroup(ctx context.Context, creatorID uint, in CreateGroupInput) (*GroupView, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.InvalidArgument("group name is required")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	memberIDs := uniqueIDs(append([]uint{creatorID}, in.MemberIDs...)...)
	if err := s.requireUsers(ctx, memberIDs); err != nil {
		return nil, err
	}

	now := time.Now()
	group := &models.Group{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		AdminID:     creatorID,
	}
	for _, id := range memberIDs {
		group.Members = append(group.Members, models.GroupMember{UserID: id, JoinedAt: now})
	}

	err := s.transaction(ctx, "create group", func(tx *gorm.DB) error {
		return storage.NewGormGroupRepository(tx).CreateGroup(ctx, group)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("group created", zap.Uint("groupId", group.ID), zap.Uint("adminId", creatorID), zap.Int("members", len(memberIDs)))

	update := imtypes.GroupUpdateData{GroupID: group.ID, Action: imtypes.GroupActionCreated, UserIDs: memberIDs, AdminID: creatorID}
	for _, id := range memberIDs {
		s.publish(ctx, imtypes.UserChannel(id), imtypes.EventGroupUpdated, update)
	}
	return s.view(ctx, group)
}

func (s *groupService) GetGroup(ctx context.Context, groupID, viewerID uint) (*GroupView, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, lookupErr("get group", err, apperr.ErrGroupNotFound)
	}
	if err := access.RequireMember(group, viewerID); err != nil {
		return nil, err
	}
	return s.view(ctx, group)
}

func (s *groupService) ListUserGroups(ctx context.Context, userID uint, page, pageSize int) ([]*GroupView, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	limit, offset := pageBounds(page, pageSize)
	groups, err := s.groupRepo.GetUserGroups(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list groups", err)
	}
	out := make([]*GroupView, 0, len(groups))
	for _, g := range groups {
		v, err := s.view(ctx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *groupService) UpdateGroup(ctx context.Context, groupID, actorID uint, in UpdateGroupInput) (*GroupView, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, apperr.InvalidArgument("group name cannot be empty")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var group *models.Group
	err := s.transaction(ctx, "update group", func(tx *gorm.DB) error {
		repo := storage.NewGormGroupRepository(tx)
		g, err := repo.GetGroupForUpdate(ctx, groupID)
		if err != nil {
			return lookupErr("get group", err, apperr.ErrGroupNotFound)
		}
		if err := access.RequireAdmin(g, actorID); err != nil {
			return err
		}
		if in.Name != nil {
			g.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			g.Description = strings.TrimSpace(*in.Description)
		}
		if in.ImageURL != nil {
			g.ImageURL = strings.TrimSpace(*in.ImageURL)
		}
		group = g
		return repo.UpdateGroup(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, imtypes.GroupChannel(groupID), imtypes.EventGroupUpdated,
		imtypes.GroupUpdateData{GroupID: groupID, Action: imtypes.GroupActionUpdated, AdminID: group.AdminID})
	return s.view(ctx, group)
}

func (s *groupService) AddMembers(ctx context.Context, groupID, actorID uint, userIDs []uint) (*GroupView, error) {
	userIDs = uniqueIDs(userIDs...)
	if len(userIDs) == 0 {
		return nil, apperr.InvalidArgument("memberIds cannot be empty")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		group *models.Group
		added []uint
	)
	err := s.transaction(ctx, "add group members", func(tx *gorm.DB) error {
		repo := storage.NewGormGroupRepository(tx)
		g, err := repo.GetGroupForUpdate(ctx, groupID)
		if err != nil {
			return lookupErr("get group", err, apperr.ErrGroupNotFound)
		}
		if err := access.RequireAdmin(g, actorID); err != nil {
			return err
		}
		n, err := storage.NewGormUserRepository(tx).CountExisting(ctx, userIDs)
		if err != nil {
			return err
		}
		if int(n) != len(userIDs) {
			return apperr.ErrUserNotFound
		}
		for _, id := range userIDs {
			if !access.IsMember(g, id) {
				added = append(added, id)
			}
		}
		if err := repo.AddMembers(ctx, groupID, added, time.Now()); err != nil {
			return err
		}
		group, err = repo.GetGroupByID(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		update := imtypes.GroupUpdateData{GroupID: groupID, Action: imtypes.GroupActionMembersAdded, UserIDs: added, AdminID: group.AdminID}
		s.publish(ctx, imtypes.GroupChannel(groupID), imtypes.EventGroupUpdated, update)
		for _, id := range added {
			s.publish(ctx, imtypes.UserChannel(id), imtypes.EventGroupUpdated, update)
		}
	}
	return s.view(ctx, group)
}

func (s *groupService) RemoveMember(ctx context.Context, groupID, actorID, targetID uint) (*GroupView, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var group *models.Group
	err := s.transaction(ctx, "remove group member", func(tx *gorm.DB) error {
		repo := storage.NewGormGroupRepository(tx)
		g, err := repo.GetGroupForUpdate(ctx, groupID)
		if err != nil {
			return lookupErr("get group", err, apperr.ErrGroupNotFound)
		}
		if err := access.RequireAdmin(g, actorID); err != nil {
			return err
		}
		if targetID == actorID {
			return apperr.ErrAdminMustLeave
		}
		if !access.IsMember(g, targetID) {
			return apperr.ErrMemberNotFound
		}
		if err := repo.RemoveMember(ctx, groupID, targetID); err != nil {
			return err
		}
		group, err = repo.GetGroupByID(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}

	update := imtypes.GroupUpdateData{GroupID: groupID, Action: imtypes.GroupActionMemberRemoved, UserIDs: []uint{targetID}, AdminID: group.AdminID}
	s.publish(ctx, imtypes.GroupChannel(groupID), imtypes.EventGroupUpdated, update)
	s.publish(ctx, imtypes.UserChannel(targetID), imtypes.EventGroupUpdated, update)
	return s.view(ctx, group)
}

func (s *groupService) Leave(ctx context.Context, groupID, actorID uint) (*LeaveResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result := &LeaveResult{GroupID: groupID}
	err := s.transaction(ctx, "leave group", func(tx *gorm.DB) error {
		repo := storage.NewGormGroupRepository(tx)
		g, err := repo.GetGroupForUpdate(ctx, groupID)
		if err != nil {
			return lookupErr("get group", err, apperr.ErrGroupNotFound)
		}
		if err := access.RequireMember(g, actorID); err != nil {
			return err
		}

		switch {
		case g.AdminID != actorID:
			return repo.RemoveMember(ctx, groupID, actorID)
		case len(g.Members) > 1:
			// 成员按加入顺序排列，第一个非 actor 的成员即继任者
			var successor uint
			for _, m := range g.Members {
				if m.UserID != actorID {
					successor = m.UserID
					break
				}
			}
			if err := repo.SetAdmin(ctx, groupID, successor); err != nil {
				return err
			}
			result.NewAdminID = successor
			return repo.RemoveMember(ctx, groupID, actorID)
		default:
			result.GroupDeleted = true
			if err := repo.DeleteMembers(ctx, groupID); err != nil {
				return err
			}
			return repo.DeleteGroup(ctx, groupID)
		}
	})
	if err != nil {
		return nil, err
	}

	update := imtypes.GroupUpdateData{GroupID: groupID, Action: imtypes.GroupActionMemberLeft, UserIDs: []uint{actorID}, AdminID: result.NewAdminID}
	if result.GroupDeleted {
		update.Action = imtypes.GroupActionDeleted
	}
	s.publish(ctx, imtypes.GroupChannel(groupID), imtypes.EventGroupUpdated, update)
	s.log.Info("member left group",
		zap.Uint("groupId", groupID),
		zap.Uint("userId", actorID),
		zap.Uint("newAdminId", result.NewAdminID),
		zap.Bool("groupDeleted", result.GroupDeleted))
	return result, nil
}

func (s *groupService) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, apperr.Storage("get group", err)
	}
	return access.IsMember(group, userID), nil
}

func (s *groupService) UserGroupIDs(ctx context.Context, userID uint) ([]uint, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.groupRepo.GetUserGroupIDs(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("list group ids", err)
	}
	return ids, nil
}

func (s *groupService) requireUsers(ctx context.Context, ids []uint) error {
	n, err := s.userRepo.CountExisting(ctx, ids)
	if err != nil {
		return apperr.Storage("check users", err)
	}
	if int(n) != len(ids) {
		return apperr.ErrUserNotFound
	}
	return nil
}

// view resolves member identities in membership order.
func (s *groupService) view(ctx context.Context, g *models.Group) (*GroupView, error) {
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, g.MemberIDs())
	if err != nil {
		return nil, apperr.Storage("load group members", err)
	}
	byID := make(map[uint]*models.UserBasicInfo, len(infos))
	for _, u := range infos {
		byID[u.ID] = u
	}
	members := make([]*models.UserBasicInfo, 0, len(g.Members))
	for _, id := range g.MemberIDs() {
		if u, ok := byID[id]; ok {
			members = append(members, u)
		}
	}
	return &GroupView{
		ID:            g.ID,
		Name:          g.Name,
		Description:   g.Description,
		ImageURL:      g.ImageURL,
		AdminID:       g.AdminID,
		Members:       members,
		LastMessageID: g.LastMessageID,
		LastMessageAt: g.LastMessageAt,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}, nil
}
