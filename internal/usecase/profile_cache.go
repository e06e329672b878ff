package usecase

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/pkg/logger"
)

// profileCache keeps profiles for the life of the engine. Unknown users are
// cached as nil so they are not fetched again. Concurrent requests for the
// same id set share one fetch.
type profileCache struct {
	users repository.UserRepository
	group singleflight.Group

	mu       sync.RWMutex
	profiles map[string]*entity.UserProfile
}

func newProfileCache(users repository.UserRepository) *profileCache {
	return &profileCache{
		users:    users,
		profiles: make(map[string]*entity.UserProfile),
	}
}

func (p *profileCache) cached(ids []string) (map[string]*entity.UserProfile, []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	found := make(map[string]*entity.UserProfile, len(ids))
	var missing []string
	for _, id := range ids {
		profile, ok := p.profiles[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if profile != nil {
			found[id] = profile
		}
	}
	return found, missing
}

func (p *profileCache) resolve(ctx context.Context, ids []string) (map[string]*entity.UserProfile, error) {
	ids = entity.UniqueStrings(ids)
	found, missing := p.cached(ids)
	if len(missing) == 0 || p.users == nil {
		return found, nil
	}

	key := entity.SortedKey(missing)
	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		fetched, err := p.users.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		for _, id := range missing {
			p.profiles[id] = fetched[id]
		}
		p.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return found, err
	}
	if shared {
		logger.Debug("Profile fetch for %s shared with a concurrent caller", key)
	}

	for id, profile := range v.(map[string]*entity.UserProfile) {
		if profile != nil {
			found[id] = profile
		}
	}
	return found, nil
}

// lookup returns nil when the profile is unknown or cannot be fetched.
func (p *profileCache) lookup(ctx context.Context, id string) *entity.UserProfile {
	profiles, err := p.resolve(ctx, []string{id})
	if err != nil {
		logger.Warn("Profile lookup for user %s failed: %v", id, err)
		return nil
	}
	return profiles[id]
}

// ResolveProfiles returns the known profiles among ids. Ids with no profile are absent from the map.
func (uc *ChatUseCase) ResolveProfiles(ctx context.Context, ids []string) (map[string]*entity.UserProfile, error) {
	if err := uc.checkOpen(); err != nil {
		return nil, err
	}
	return uc.profiles.resolve(ctx, ids)
}
