package repository

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"matchchat/internal/domain/entity"
	"matchchat/internal/domain/repository"
	"matchchat/pkg/errors"
)

type firestoreUserRepository struct {
	client *firestore.Client
}

func NewFirestoreUserRepository(client *firestore.Client) repository.UserRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

func (r *firestoreUserRepository) GetByID(ctx context.Context, id string) (*entity.UserProfile, error) {
	doc, err := r.client.Collection(repository.CollectionUsers).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.Transport("Failed to get user", err)
	}

	var user entity.UserProfile
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse user data", err)
	}
	user.ID = doc.Ref.ID

	return &user, nil
}

// GetByIDs skips ids with no user document.
func (r *firestoreUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.UserProfile, error) {
	ids = entity.UniqueStrings(ids)
	result := make(map[string]*entity.UserProfile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, r.client.Collection(repository.CollectionUsers).Doc(id))
	}

	snaps, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, errors.Transport("Failed to get users", err)
	}

	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var user entity.UserProfile
		if err := snap.DataTo(&user); err != nil {
			log.Printf("GetByIDs: skipping user %s with unreadable data: %v", snap.Ref.ID, err)
			continue
		}
		user.ID = snap.Ref.ID
		result[user.ID] = &user
	}

	return result, nil
}

type storeUserRepository struct {
	store repository.DocumentStore
}

// NewStoreUserRepository reads profiles through any DocumentStore; used with the memory driver.
func NewStoreUserRepository(store repository.DocumentStore) repository.UserRepository {
	return &storeUserRepository{store: store}
}

func (r *storeUserRepository) GetByID(ctx context.Context, id string) (*entity.UserProfile, error) {
	doc, err := r.store.Get(ctx, repository.UserPath(id))
	if err != nil {
		return nil, err
	}
	return profileFromData(doc.ID, doc.Data), nil
}

func (r *storeUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.UserProfile, error) {
	result := make(map[string]*entity.UserProfile)
	for _, id := range entity.UniqueStrings(ids) {
		user, err := r.GetByID(ctx, id)
		if errors.Is(err, errors.CodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[id] = user
	}
	return result, nil
}

func profileFromData(id string, data map[string]interface{}) *entity.UserProfile {
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}
	return &entity.UserProfile{
		ID:        id,
		Username:  str("username"),
		FullName:  str("fullName"),
		AvatarURL: str("avatarURL"),
		PhotoURL:  str("photoURL"),
	}
}
