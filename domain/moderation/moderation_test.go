package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"real-backend/domain/config"
)

func TestPolicy_PostForcedArchive(t *testing.T) {
	policy := NewPolicy(config.DefaultPostProcessingConfig())

	tests := []struct {
		name    string
		flags   int64
		viewed  int64
		archive bool
	}{
		{"below minimum with no views", 5, 0, false},
		{"minimum with no views", 6, 0, true},
		{"minimum at ten percent", 6, 60, true},
		{"minimum below ten percent", 6, 61, false},
		{"above minimum at ten percent", 10, 100, true},
		{"above minimum below ten percent", 10, 101, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.archive, policy.PostForcedArchive(tt.flags, tt.viewed))
		})
	}
}

func TestPolicy_CommentForcedDelete(t *testing.T) {
	policy := NewPolicy(config.DefaultPostProcessingConfig())

	assert.False(t, policy.CommentForcedDelete(5))
	assert.True(t, policy.CommentForcedDelete(6))
	assert.True(t, policy.CommentForcedDelete(20))
}

func TestPolicy_ChatMessageForcedDelete(t *testing.T) {
	policy := NewPolicy(config.DefaultPostProcessingConfig())

	tests := []struct {
		name    string
		flags   int64
		users   int64
		deleted bool
	}{
		{"no flags", 0, 2, false},
		{"one flag small chat", 1, 2, true},
		{"one flag ten users", 1, 10, true},
		{"one flag eleven users", 1, 11, false},
		{"two flags twenty users", 2, 20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.deleted, policy.ChatMessageForcedDelete(tt.flags, tt.users))
		})
	}
}

func TestPolicy_AdminFlag(t *testing.T) {
	policy := NewPolicy(config.DefaultPostProcessingConfig())

	assert.True(t, policy.AdminFlag("azim"))
	assert.True(t, policy.AdminFlag("Ian"))
	assert.False(t, policy.AdminFlag("mallory"))
	assert.False(t, policy.AdminFlag(""))
}

func TestPostStatus_Transitions(t *testing.T) {
	assert.True(t, PostPending.CanTransition(PostCompleted))
	assert.True(t, PostCompleted.CanTransition(PostArchived))
	assert.True(t, PostArchived.CanTransition(PostCompleted))
	assert.False(t, PostPending.CanTransition(PostArchived))
	assert.False(t, PostDeleting.CanTransition(PostCompleted))

	assert.True(t, PostCompleted.CanForceArchive())
	assert.False(t, PostPending.CanForceArchive())
	assert.False(t, PostArchived.CanForceArchive())
}

func TestUserStatus_Transitions(t *testing.T) {
	assert.True(t, UserActive.CanTransition(UserDisabled))
	assert.True(t, UserDisabled.CanTransition(UserActive))
	assert.False(t, UserDeleting.CanTransition(UserActive))
}

func TestEndpointActionFor(t *testing.T) {
	assert.Equal(t, EndpointsUnchanged, EndpointActionFor(UserActive, UserActive))
	assert.Equal(t, EndpointsEnable, EndpointActionFor("", UserActive))
	assert.Equal(t, EndpointsEnable, EndpointActionFor(UserDisabled, UserActive))
	assert.Equal(t, EndpointsDisable, EndpointActionFor(UserActive, UserDisabled))
	assert.Equal(t, EndpointsDisable, EndpointActionFor(UserActive, UserDeleting))
	assert.Equal(t, EndpointsUnchanged, EndpointActionFor(UserActive, ""))
}

func TestChatMessageStatus_Transitions(t *testing.T) {
	assert.True(t, ChatMessageLive.CanTransition(ChatMessageDeleted))
	assert.False(t, ChatMessageDeleted.CanTransition(ChatMessageLive))
}
