package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

// FollowService manages the directed follow graph.
type FollowService struct {
	users   repository.UserRepository
	follows repository.FollowRepository
	logger  *slog.Logger
}

func NewFollowService(users repository.UserRepository, follows repository.FollowRepository, logger *slog.Logger) *FollowService {
	return &FollowService{users: users, follows: follows, logger: logger}
}

// Follow makes followerID follow followingID. Following twice is a no-op.
func (s *FollowService) Follow(ctx context.Context, followerID, followingID string) error {
	if err := s.checkTarget(ctx, followerID, followingID); err != nil {
		return err
	}
	if err := s.follows.CreateFollow(ctx, followerID, followingID); err != nil {
		return fmt.Errorf("following user: %w", err)
	}
	s.logger.Info("user followed",
		slog.String("followerID", followerID),
		slog.String("followingID", followingID),
	)
	return nil
}

// Unfollow removes the edge. Unfollowing someone not followed is a no-op.
func (s *FollowService) Unfollow(ctx context.Context, followerID, followingID string) error {
	if followerID == followingID {
		return apperror.ValidationFailed("userId", "you cannot unfollow yourself")
	}
	if err := s.follows.DeleteFollow(ctx, followerID, followingID); err != nil {
		return fmt.Errorf("unfollowing user: %w", err)
	}
	return nil
}

// Counts returns how many users follow userID and how many it follows.
func (s *FollowService) Counts(ctx context.Context, userID string) (model.FollowCounts, error) {
	c, err := s.follows.CountFollows(ctx, userID)
	if err != nil {
		return c, fmt.Errorf("counting follows: %w", err)
	}
	return c, nil
}

// IsFollowing reports whether followerID follows followingID.
func (s *FollowService) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	ok, err := s.follows.IsFollowing(ctx, followerID, followingID)
	if err != nil {
		return false, fmt.Errorf("checking follow: %w", err)
	}
	return ok, nil
}

func (s *FollowService) checkTarget(ctx context.Context, followerID, followingID string) error {
	if followingID == "" {
		return apperror.ValidationFailed("userId", "userId is required")
	}
	if followerID == followingID {
		return apperror.ValidationFailed("userId", "you cannot follow yourself")
	}
	target, err := s.users.GetUserByID(ctx, followingID)
	if err != nil {
		return err
	}
	if target.IsDeleted {
		return apperror.NotFound("user", followingID)
	}
	return nil
}
