package implementation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// MemoryUserStore is an in-process UserRepository for service and controller tests
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]auth_models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]auth_models.User)}
}

func (s *MemoryUserStore) Create(_ context.Context, user *auth_models.User) (*auth_models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return nil, interfaces.ErrConflict
		}
	}
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	s.users[user.UserID] = *user
	return user, nil
}

func (s *MemoryUserStore) find(match func(u auth_models.User) bool) (*auth_models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryUserStore) GetByID(_ context.Context, userID string) (*auth_models.User, error) {
	return s.find(func(u auth_models.User) bool { return u.UserID == userID })
}

func (s *MemoryUserStore) GetByUsername(_ context.Context, username string) (*auth_models.User, error) {
	return s.find(func(u auth_models.User) bool { return u.Username == username })
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*auth_models.User, error) {
	return s.find(func(u auth_models.User) bool { return u.Email == email })
}

func (s *MemoryUserStore) filter(match func(u auth_models.User) bool) []*auth_models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth_models.User, 0, len(s.users))
	for _, u := range s.users {
		if match(u) {
			u := u
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *MemoryUserStore) GetAll(_ context.Context) ([]*auth_models.User, error) {
	return s.filter(func(auth_models.User) bool { return true }), nil
}

func (s *MemoryUserStore) GetByRole(_ context.Context, role string) ([]*auth_models.User, error) {
	return s.filter(func(u auth_models.User) bool { return u.Role == role }), nil
}

func (s *MemoryUserStore) Update(_ context.Context, user *auth_models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.UserID]; !ok {
		return interfaces.ErrNotFound
	}
	for id, u := range s.users {
		if id != user.UserID && (u.Username == user.Username || u.Email == user.Email) {
			return interfaces.ErrConflict
		}
	}
	user.UpdatedAt = time.Now()
	s.users[user.UserID] = *user
	return nil
}

func (s *MemoryUserStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.users, userID)
	return nil
}
