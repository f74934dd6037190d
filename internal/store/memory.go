package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ayush/task-manager/internal/models"
)

// MemoryStore keeps users and tasks in process memory. It implements the
// same contracts as the Mongo stores and backs local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	emails map[string]string // email -> user id
	tasks  map[primitive.ObjectID]*models.Task
	last   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*models.User),
		emails: make(map[string]string),
		tasks:  make(map[primitive.ObjectID]*models.Task),
	}
}

// now returns a strictly increasing timestamp so sorting on createdAt or
// updatedAt never ties. Callers hold mu.
func (s *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// ── Users ───────────────────────────────────────────────────

func (s *MemoryStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[u.Email]; taken {
		return ErrDuplicateEmail
	}
	now := s.now()
	u.ID = primitive.NewObjectID().Hex()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Tokens == nil {
		u.Tokens = []models.SessionToken{}
	}
	s.users[u.ID] = cloneUser(u)
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) FindByIDAndToken(_ context.Context, id, token string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok || !u.HasToken(token) {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) AddToken(_ context.Context, id, token string) error {
	return s.mutateUser(id, func(u *models.User) {
		u.Tokens = append(u.Tokens, models.SessionToken{Token: token})
	})
}

func (s *MemoryStore) RemoveToken(_ context.Context, id, token string) error {
	return s.mutateUser(id, func(u *models.User) {
		kept := u.Tokens[:0]
		for _, t := range u.Tokens {
			if t.Token != token {
				kept = append(kept, t)
			}
		}
		u.Tokens = kept
	})
}

func (s *MemoryStore) ClearTokens(_ context.Context, id string) error {
	return s.mutateUser(id, func(u *models.User) {
		u.Tokens = []models.SessionToken{}
	})
}

func (s *MemoryStore) Update(_ context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil && *upd.Email != u.Email {
		if _, taken := s.emails[*upd.Email]; taken {
			return nil, ErrDuplicateEmail
		}
		delete(s.emails, u.Email)
		s.emails[*upd.Email] = id
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Password != nil {
		u.Password = *upd.Password
	}
	if upd.Age != nil {
		u.Age = *upd.Age
	}
	u.UpdatedAt = s.now()
	return cloneUser(u), nil
}

func (s *MemoryStore) SetAvatar(_ context.Context, id string, data []byte, contentType string) error {
	return s.mutateUser(id, func(u *models.User) {
		if len(data) == 0 {
			u.Avatar, u.AvatarType = nil, ""
			return
		}
		u.Avatar = bytes.Clone(data)
		u.AvatarType = contentType
	})
}

func (s *MemoryStore) GetAvatar(_ context.Context, id string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok || len(u.Avatar) == 0 {
		return nil, "", ErrNotFound
	}
	return bytes.Clone(u.Avatar), u.AvatarType, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.emails, u.Email)
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) mutateUser(id string, fn func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = s.now()
	return nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Tokens = append([]models.SessionToken(nil), u.Tokens...)
	c.Avatar = bytes.Clone(u.Avatar)
	return &c
}

// ── Tasks ───────────────────────────────────────────────────

func (s *MemoryStore) Insert(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	task.ID = primitive.NewObjectID()
	task.CreatedAt = now
	task.UpdatedAt = now
	c := *task
	s.tasks[task.ID] = &c
	return nil
}

func (s *MemoryStore) List(_ context.Context, owner string, q TaskQuery) ([]models.Task, error) {
	s.mu.RLock()
	tasks := []models.Task{}
	for _, t := range s.tasks {
		if t.Owner != owner {
			continue
		}
		if q.Completed != nil && t.Completed != *q.Completed {
			continue
		}
		tasks = append(tasks, *t)
	}
	s.mu.RUnlock()

	sortTasks(tasks, q.SortField, q.SortDesc)

	if q.Skip > 0 {
		if q.Skip >= int64(len(tasks)) {
			return []models.Task{}, nil
		}
		tasks = tasks[q.Skip:]
	}
	if q.Limit > 0 && q.Limit < int64(len(tasks)) {
		tasks = tasks[:q.Limit]
	}
	return tasks, nil
}

func (s *MemoryStore) FindOwned(_ context.Context, id, owner string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.owned(id, owner)
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) UpdateOwned(_ context.Context, id, owner string, upd models.TaskUpdate) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.owned(id, owner)
	if !ok {
		return nil, ErrNotFound
	}
	upd.Apply(t)
	t.UpdatedAt = s.now()
	c := *t
	return &c, nil
}

func (s *MemoryStore) DeleteOwned(_ context.Context, id, owner string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.owned(id, owner)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.tasks, t.ID)
	return t, nil
}

func (s *MemoryStore) DeleteByOwner(_ context.Context, owner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Owner == owner {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) owned(id, owner string) (*models.Task, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	t, ok := s.tasks[oid]
	if !ok || t.Owner != owner {
		return nil, false
	}
	return t, true
}

// sortTasks orders tasks the way the Mongo store does: by field, then by _id
// ascending. Fields tasks do not have compare equal.
func sortTasks(tasks []models.Task, field string, desc bool) {
	cmp := taskComparator(field)
	idDesc := field == "_id" && desc
	sort.SliceStable(tasks, func(i, j int) bool {
		if c := cmp(&tasks[i], &tasks[j]); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		c := bytes.Compare(tasks[i].ID[:], tasks[j].ID[:])
		if idDesc {
			return c > 0
		}
		return c < 0
	})
}

func taskComparator(field string) func(a, b *models.Task) int {
	switch field {
	case "description":
		return func(a, b *models.Task) int { return strings.Compare(a.Description, b.Description) }
	case "completed":
		return func(a, b *models.Task) int { return compareBool(a.Completed, b.Completed) }
	case "owner":
		return func(a, b *models.Task) int { return strings.Compare(a.Owner, b.Owner) }
	case "createdAt":
		return func(a, b *models.Task) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "updatedAt":
		return func(a, b *models.Task) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	default:
		return func(a, b *models.Task) int { return 0 }
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}
