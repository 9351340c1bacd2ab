package moderation

// PostStatus is the lifecycle of a post.
type PostStatus string

const (
	PostPending   PostStatus = "PENDING"
	PostCompleted PostStatus = "COMPLETED"
	PostArchived  PostStatus = "ARCHIVED"
	PostDeleting  PostStatus = "DELETING"
)

var postTransitions = map[PostStatus][]PostStatus{
	PostPending:   {PostCompleted, PostDeleting},
	PostCompleted: {PostArchived, PostDeleting},
	PostArchived:  {PostCompleted, PostDeleting},
}

// CanTransition reports whether the post may move to the target status.
// ARCHIVED -> COMPLETED is the foreground unarchive.
func (s PostStatus) CanTransition(to PostStatus) bool {
	for _, allowed := range postTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanForceArchive reports whether moderation may archive a post in this status.
func (s PostStatus) CanForceArchive() bool {
	return s == PostCompleted
}

// UserStatus is the lifecycle of a user account.
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserDisabled UserStatus = "DISABLED"
	UserDeleting UserStatus = "DELETING"
)

func (s UserStatus) CanTransition(to UserStatus) bool {
	switch s {
	case UserActive:
		return to == UserDisabled || to == UserDeleting
	case UserDisabled:
		return to == UserActive || to == UserDeleting
	}
	return false
}

// EndpointAction is what the push endpoints of a user must do after a status change.
type EndpointAction int

const (
	EndpointsUnchanged EndpointAction = iota
	EndpointsEnable
	EndpointsDisable
)

// EndpointActionFor derives the push endpoint action from a user status
// change. An empty old status is a newly observed profile.
func EndpointActionFor(old, new UserStatus) EndpointAction {
	if old == new {
		return EndpointsUnchanged
	}
	switch new {
	case UserActive:
		return EndpointsEnable
	case UserDisabled, UserDeleting:
		return EndpointsDisable
	}
	return EndpointsUnchanged
}

// ChatMessageStatus is the lifecycle of a chat message.
type ChatMessageStatus string

const (
	ChatMessageLive    ChatMessageStatus = "LIVE"
	ChatMessageDeleted ChatMessageStatus = "DELETED"
)

func (s ChatMessageStatus) CanTransition(to ChatMessageStatus) bool {
	return s == ChatMessageLive && to == ChatMessageDeleted
}
