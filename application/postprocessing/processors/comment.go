package processors

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
)

// CommentProcessor maintains the comment counters of posts and users and
// force deletes heavily flagged comments.
type CommentProcessor struct {
	base
}

// NewCommentProcessor creates the comment processor
func NewCommentProcessor(deps Deps) *CommentProcessor {
	return &CommentProcessor{base: newBase(deps)}
}

func (p *CommentProcessor) Name() string { return "comment" }

func (p *CommentProcessor) Routes() []postprocessing.Route {
	return []postprocessing.Route{
		{Kind: keys.KindComment, Facet: keys.FacetPrimary},
		{Kind: keys.KindComment, Facet: keys.FacetFlag},
	}
}

func (p *CommentProcessor) Run(ctx context.Context, rec stream.Record) error {
	if rec.Address.Facet == keys.FacetFlag {
		return p.onFlag(ctx, rec)
	}
	return p.onComment(ctx, rec)
}

func (p *CommentProcessor) onComment(ctx context.Context, rec stream.Record) error {
	image := rec.Image()
	postID := ownerID(image, attrPostID)
	commenterID := image.String(attrCommentedByUserID)

	var errs errorSet
	switch rec.Transition {
	case stream.ADD:
		changes, err := p.addedCounts(ctx, postID, commenterID)
		if err != nil {
			return err
		}
		_, err = p.table.ApplyOnce(ctx, rec.Address, rec.Mark(), changes...)
		errs.add(err)

	case stream.DELETE:
		if postID != "" && !rec.CausedByRemovalOf(keys.KindPost, postID) {
			errs.add(p.decrementSoft(ctx, keys.Primary(keys.KindPost, postID), countComment))
		}
		if commenterID != "" && !rec.CausedByRemovalOf(keys.KindUser, commenterID) {
			errs.add(p.decrementSoft(ctx, keys.UserProfile(commenterID), countComment))
		}
		errs.add(p.cascade.RemoveChildren(ctx, rec.Address))
	}
	return errs.err
}

// addedCounts are the counter changes of a new comment. The commented post is
// counted even when it is gone so the missing post is reported.
func (p *CommentProcessor) addedCounts(ctx context.Context, postID, commenterID string) ([]ports.CounterChange, error) {
	var changes []ports.CounterChange
	if postID != "" {
		postAddr := keys.Primary(keys.KindPost, postID)
		post, err := p.table.GetItem(ctx, postAddr)
		if err != nil && !errors.Is(err, apperrors.ErrItemNotFound) {
			return nil, err
		}
		changes = append(changes, ports.Increment(postAddr, countComment))
		if err == nil && post.String(attrPostedByUserID) != commenterID {
			changes = append(changes, ports.Increment(postAddr, countCommentsUnviewed))
		}
	}
	if commenterID != "" {
		changes = append(changes, ports.Increment(keys.UserProfile(commenterID), countComment))
	}
	return changes, nil
}

func (p *CommentProcessor) onFlag(ctx context.Context, rec stream.Record) error {
	comment, admin, err := flagCounter{p.base}.flagged(ctx, rec)
	if err != nil || rec.Transition != stream.ADD {
		return err
	}
	if !admin && !p.policy.CommentForcedDelete(comment.Int(countFlag)) {
		return nil
	}

	p.log(ctx).Info("Comment force deleted",
		zap.String("comment", rec.Address.ID),
		zap.Int64("flagCount", comment.Int(countFlag)),
		zap.Bool("adminFlag", admin),
	)
	return p.cascade.Delete(ctx, rec.Address.Parent())
}

// OnCascade returns the comments of a removed post.
func (p *CommentProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	if owner.Kind != keys.KindPost {
		return nil, nil
	}
	return p.table.QueryIndex(ctx, keys.IndexOwner, keys.OwnerValue(keys.KindComment, owner.ID))
}
