// Package moderation holds the crowdsourced moderation rules and the status
// machines of the moderated entities.
package moderation

import "real-backend/domain/config"

// Policy evaluates flag thresholds.
type Policy struct {
	cfg *config.PostProcessingConfig
}

func NewPolicy(cfg *config.PostProcessingConfig) *Policy {
	return &Policy{cfg: cfg}
}

// atLeast reports n >= max(minimum, percent% of total) in integer arithmetic.
func atLeast(n, minimum, percent, total int64) bool {
	return n >= minimum && n*100 >= percent*total
}

// PostForcedArchive reports whether a post with the given counters must be
// archived.
func (p *Policy) PostForcedArchive(flagCount, viewedByCount int64) bool {
	return atLeast(flagCount, p.cfg.PostFlagMinimum, p.cfg.PostFlagViewPercent, viewedByCount)
}

// CommentForcedDelete reports whether a comment must be deleted.
func (p *Policy) CommentForcedDelete(flagCount int64) bool {
	return flagCount >= p.cfg.CommentFlagMinimum
}

// ChatMessageForcedDelete reports whether a chat message must be deleted
// given the number of users in its chat.
func (p *Policy) ChatMessageForcedDelete(flagCount, chatUserCount int64) bool {
	return atLeast(flagCount, p.cfg.ChatMessageFlagMinimum, p.cfg.ChatMessageFlagUserPercent, chatUserCount)
}

// AdminFlag reports whether the flagger's username forces action on its own.
func (p *Policy) AdminFlag(username string) bool {
	return p.cfg.IsAdmin(username)
}
