package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"storefront/internal/entity"
	"storefront/internal/repository"
)

const userCacheTTL = 5 * time.Minute

type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*entity.User, error)
	CreateUser(ctx context.Context, user *entity.User) (*entity.User, error)
}

type UserService struct {
	repo UserStore
	rdb  *redis.Client
}

// NewUserService creates a new instance of UserService. rdb may be nil, in
// which case every lookup goes to the database.
func NewUserService(repo UserStore, rdb *redis.Client) *UserService {
	return &UserService{repo: repo, rdb: rdb}
}

func userCacheKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}

// CurrentUser resolves the account behind a verified session. Accounts the
// identity provider knows but we have not seen yet are created as USER.
func (s *UserService) CurrentUser(ctx context.Context, identity entity.User) (*entity.User, error) {
	if identity.ID == "" || identity.Email == "" {
		return nil, errUnauthenticated
	}

	if user := s.cached(ctx, identity.ID); user != nil {
		return user, nil
	}

	user, err := s.repo.GetUserByID(ctx, identity.ID)
	if errors.Is(err, repository.ErrUserNotFound) {
		user, err = s.repo.CreateUser(ctx, &entity.User{ID: identity.ID, Email: identity.Email, Name: identity.Name})
		switch {
		case errors.Is(err, repository.ErrUserExists):
			// a concurrent request provisioned it first
			user, err = s.repo.GetUserByID(ctx, identity.ID)
		case err == nil:
			logger.Info().Str("user_id", user.ID).Msg("Provisioned user from session")
		}
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting user by ID %s", identity.ID)
		return nil, newError(KindPersistence, "Error fetching user", err)
	}

	s.cache(ctx, user)
	return user, nil
}

func (s *UserService) cached(ctx context.Context, id string) *entity.User {
	if s.rdb == nil {
		return nil
	}
	val, err := s.rdb.Get(ctx, userCacheKey(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn().Err(err).Msg("Error reading user cache")
		}
		return nil
	}
	var user entity.User
	if err := json.Unmarshal([]byte(val), &user); err != nil {
		return nil
	}
	return &user
}

func (s *UserService) cache(ctx context.Context, user *entity.User) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, userCacheKey(user.ID), data, userCacheTTL).Err(); err != nil {
		logger.Warn().Err(err).Msg("Error writing user cache")
	}
}
