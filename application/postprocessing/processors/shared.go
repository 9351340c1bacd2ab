// Package processors holds one post-processor per entity family.
package processors

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/domain/config"
	"real-backend/domain/keys"
	"real-backend/domain/moderation"
	"real-backend/domain/stream"
	"real-backend/pkg/common"
	apperrors "real-backend/pkg/errors"
)

// Entity attributes read or maintained by the processors.
const (
	attrUserID                  = "userId"
	attrUsername                = "username"
	attrEmail                   = "email"
	attrPhoneNumber             = "phoneNumber"
	attrUserStatus              = "userStatus"
	attrLastManuallyReindexedAt = "lastManuallyReindexedAt"

	attrPostID         = "postId"
	attrPostedByUserID = "postedByUserId"
	attrPostStatus     = "postStatus"

	attrCommentID         = "commentId"
	attrCommentedByUserID = "commentedByUserId"

	attrChatID       = "chatId"
	attrMessageID    = "messageId"
	attrAuthorUserID = "authorUserId"
	attrText         = "text"
	attrCardID       = "cardId"
	attrTitle        = "title"
	attrAction       = "action"

	countFlag             = "flagCount"
	countViewedBy         = "viewedByCount"
	countComment          = "commentCount"
	countCommentsUnviewed = "commentsUnviewedCount"
	countPost             = "postCount"
	countPostArchived     = "postArchivedCount"
	countCard             = "cardCount"
	countChat             = "chatCount"
	countChatUser         = "userCount"
	countMessages         = "messagesCount"
	countMessagesUnviewed = "messagesUnviewedCount"
)

// Cascade is the part of the cascade controller processors use.
type Cascade interface {
	Token() string
	Edit(ctx context.Context, old, new stream.Item) error
	Delete(ctx context.Context, addr keys.Address) error
	RemoveChildren(ctx context.Context, owner keys.Address) error
}

// Deps are the collaborators shared by every processor.
type Deps struct {
	Table   ports.Table
	Cascade Cascade
	Config  *config.PostProcessingConfig
	Logger  *zap.Logger

	// Usernames caches user id to username lookups for admin checks. Optional.
	Usernames ports.Cache
}

// usernameTTL bounds how long a cached username is trusted, in seconds.
const usernameTTL = 300

type base struct {
	table     ports.Table
	cascade   Cascade
	cfg       *config.PostProcessingConfig
	policy    *moderation.Policy
	usernames ports.Cache
	logger    *zap.Logger
}

func newBase(deps Deps) base {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultPostProcessingConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		table:     deps.Table,
		cascade:   deps.Cascade,
		cfg:       cfg,
		policy:    moderation.NewPolicy(cfg),
		usernames: deps.Usernames,
		logger:    logger,
	}
}

func (b base) log(ctx context.Context) *zap.Logger {
	return common.LoggerFrom(ctx, b.logger)
}

// decrementSoft lowers a counter and swallows a floor or missing parent.
func (b base) decrementSoft(ctx context.Context, addr keys.Address, attr string) error {
	_, err := b.table.DecrementCount(ctx, addr, attr)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrCounterFloor):
		b.log(ctx).Warn("Counter already at zero, not decrementing",
			zap.String("target", addr.String()), zap.String("counter", attr))
		return nil
	case errors.Is(err, apperrors.ErrItemNotFound):
		b.log(ctx).Warn("Counter parent missing, not decrementing",
			zap.String("target", addr.String()), zap.String("counter", attr))
		return nil
	}
	return err
}

// isAdmin looks up the user's username and checks it against the moderators.
// A missing profile is not an admin.
func (b base) isAdmin(ctx context.Context, userID string) (bool, error) {
	if len(b.cfg.AdminUsernames) == 0 || userID == "" {
		return false, nil
	}
	username, err := b.username(ctx, userID)
	if errors.Is(err, apperrors.ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.policy.AdminFlag(username), nil
}

func (b base) username(ctx context.Context, userID string) (string, error) {
	key := "username:" + userID
	if b.usernames != nil {
		if cached, ok := b.usernames.Get(ctx, key); ok {
			if name, ok := cached.(string); ok {
				return name, nil
			}
		}
	}
	profile, err := b.table.GetItem(ctx, keys.UserProfile(userID))
	if err != nil {
		return "", err
	}
	name := profile.String(attrUsername)
	if b.usernames != nil && name != "" {
		if err := b.usernames.Set(ctx, key, name, usernameTTL); err != nil {
			b.log(ctx).Debug("Failed to cache username", zap.Error(err))
		}
	}
	return name, nil
}

// ownerID returns the owning user of a record from its GSI-A1 projection,
// falling back to the named attribute.
func ownerID(item stream.Item, fallbackAttr string) string {
	if _, id, ok := keys.SplitIndexValue(item.String(keys.AttrGSIA1PartitionKey)); ok {
		return id
	}
	return item.String(fallbackAttr)
}

// errorSet keeps the most severe of several independent failures.
type errorSet struct {
	err error
}

func severity(err error) int {
	switch apperrors.Classify(err) {
	case apperrors.ErrorTypeProgrammer:
		return 3
	case apperrors.ErrorTypeTransient:
		return 2
	}
	return 1
}

func (s *errorSet) add(err error) {
	if err == nil {
		return
	}
	if s.err == nil || severity(err) > severity(s.err) {
		s.err = err
	}
}

// flagCounter maintains flagCount for flag/{uid} records and reports
// whether the flag forces moderation.
type flagCounter struct {
	base
}

// flagged handles ADD and DELETE of a flag record. On ADD it returns the
// current parent and whether the flagger is an admin. A replayed flag is
// counted once but still returns the parent, so moderation can finish what
// an interrupted run started.
func (f flagCounter) flagged(ctx context.Context, rec stream.Record) (parent stream.Item, admin bool, err error) {
	parentAddr := rec.Address.Parent()
	switch rec.Transition {
	case stream.ADD:
		if _, err := f.table.ApplyOnce(ctx, rec.Address, rec.Mark(), ports.Increment(parentAddr, countFlag)); err != nil {
			return nil, false, err
		}
		parent, err = f.table.GetItem(ctx, parentAddr)
		if err != nil {
			return nil, false, err
		}
		admin, err = f.isAdmin(ctx, rec.Address.FacetID)
		if err != nil {
			return parent, false, err
		}
		return parent, admin, nil
	case stream.DELETE:
		if rec.CausedByRemovalOf(parentAddr.Kind, parentAddr.ID) {
			return nil, false, nil
		}
		return nil, false, f.decrementSoft(ctx, parentAddr, countFlag)
	}
	return nil, false, nil
}
