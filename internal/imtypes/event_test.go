package imtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelKeys(t *testing.T) {
	assert.Equal(t, "user:1", UserChannel(1))
	assert.Equal(t, "group:22", GroupChannel(22))
	assert.Equal(t, "conversation:3", ConversationChannel(3))

	kind, id, err := ParseChannel("group:22")
	require.NoError(t, err)
	assert.Equal(t, ChannelGroup, kind)
	assert.Equal(t, uint(22), id)

	for _, bad := range []string{"", "group", "room:1", "user:x", "user:0"} {
		_, _, err := ParseChannel(bad)
		assert.Error(t, err, bad)
	}
}

func TestChannelEventCarriesData(t *testing.T) {
	ce, err := NewChannelEvent(UserChannel(5), NewEvent(EventPresence, PresenceData{UserID: 5, Status: "online"}))
	require.NoError(t, err)

	wire, err := json.Marshal(ce)
	require.NoError(t, err)

	var decoded ChannelEvent
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, "user:5", decoded.Channel)

	frame, err := json.Marshal(decoded.ToEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"presence","data":{"userId":5,"status":"online"}}`, string(frame))
}

func TestIsTyping(t *testing.T) {
	assert.True(t, NewEvent(EventTyping, nil).IsTyping())
	assert.True(t, NewEvent(EventStopTyping, nil).IsTyping())
	assert.False(t, NewEvent(EventMessageReceived, nil).IsTyping())
}

func TestGroupUpdate(t *testing.T) {
	in := GroupUpdateData{GroupID: 7, Action: GroupActionMemberRemoved, UserIDs: []uint{3}}

	got, ok := GroupUpdate(NewEvent(EventGroupUpdated, in))
	require.True(t, ok)
	assert.Equal(t, in, got)
	assert.True(t, got.Evicts())

	ce, err := NewChannelEvent(GroupChannel(7), NewEvent(EventGroupUpdated, in))
	require.NoError(t, err)
	got, ok = GroupUpdate(ce.ToEvent())
	require.True(t, ok)
	assert.Equal(t, in, got)

	_, ok = GroupUpdate(NewEvent(EventPresence, in))
	assert.False(t, ok)
	assert.False(t, GroupUpdateData{Action: GroupActionMembersAdded}.Evicts())
}
