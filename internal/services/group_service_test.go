package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
)

func memberIDs(v *GroupView) []uint {
	ids := make([]uint, 0, len(v.Members))
	for _, m := range v.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestCreateGroup_CreatorIsAdminAndMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")

	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: " team ", MemberIDs: []uint{b.ID, b.ID, a.ID}})
	require.NoError(t, err)
	assert.Equal(t, "team", g.Name)
	assert.Equal(t, a.ID, g.AdminID)
	assert.Equal(t, []uint{a.ID, b.ID}, memberIDs(g))
	assert.Len(t, f.pub.on(imtypes.UserChannel(b.ID), imtypes.EventGroupUpdated), 1)

	_, err = f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "x", MemberIDs: []uint{404}})
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestLeave_AdminSuccessionThenDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "pair", MemberIDs: []uint{b.ID}})
	require.NoError(t, err)

	res, err := f.groups.Leave(ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, res.GroupDeleted)
	assert.Equal(t, b.ID, res.NewAdminID)

	got, err := f.groups.GetGroup(ctx, g.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.AdminID)
	assert.Equal(t, []uint{b.ID}, memberIDs(got))

	res, err = f.groups.Leave(ctx, g.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, res.GroupDeleted)

	_, err = f.groups.GetGroup(ctx, g.ID, b.ID)
	assert.ErrorIs(t, err, apperr.ErrGroupNotFound)

	events := f.pub.on(imtypes.GroupChannel(g.ID), imtypes.EventGroupUpdated)
	require.NotEmpty(t, events)
	last := events[len(events)-1].Data.(imtypes.GroupUpdateData)
	assert.Equal(t, imtypes.GroupActionDeleted, last.Action)
}

func TestLeave_SuccessorIsEarliestAddedMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "trio", MemberIDs: []uint{c.ID, b.ID}})
	require.NoError(t, err)

	res, err := f.groups.Leave(ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, res.NewAdminID)

	ok, err := f.groups.IsMember(ctx, g.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMembership_AdminOnlyOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "ops", MemberIDs: []uint{b.ID}})
	require.NoError(t, err)

	_, err = f.groups.AddMembers(ctx, g.ID, b.ID, []uint{c.ID})
	assert.ErrorIs(t, err, apperr.ErrNotAdmin)

	got, err := f.groups.AddMembers(ctx, g.ID, a.ID, []uint{c.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID, c.ID}, memberIDs(got))

	// 重复添加不报错
	got, err = f.groups.AddMembers(ctx, g.ID, a.ID, []uint{c.ID})
	require.NoError(t, err)
	assert.Len(t, got.Members, 3)

	_, err = f.groups.RemoveMember(ctx, g.ID, b.ID, c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotAdmin)
	_, err = f.groups.RemoveMember(ctx, g.ID, a.ID, a.ID)
	assert.ErrorIs(t, err, apperr.ErrAdminMustLeave)

	got, err = f.groups.RemoveMember(ctx, g.ID, a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID}, memberIDs(got))
	_, err = f.groups.RemoveMember(ctx, g.ID, a.ID, c.ID)
	assert.ErrorIs(t, err, apperr.ErrMemberNotFound)

	removed := f.pub.on(imtypes.UserChannel(c.ID), imtypes.EventGroupUpdated)
	require.NotEmpty(t, removed)
	data := removed[len(removed)-1].Data.(imtypes.GroupUpdateData)
	assert.True(t, data.Evicts())

	_, err = f.groups.GetGroup(ctx, g.ID, c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotMember)
}

func TestUpdateGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "old", MemberIDs: []uint{b.ID}})
	require.NoError(t, err)

	name, desc := "new", "about"
	_, err = f.groups.UpdateGroup(ctx, g.ID, b.ID, UpdateGroupInput{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNotAdmin)

	got, err := f.groups.UpdateGroup(ctx, g.ID, a.ID, UpdateGroupInput{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, "about", got.Description)

	list, err := f.groups.ListUserGroups(ctx, b.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Name)
}
