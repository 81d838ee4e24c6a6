package store

import (
	"context"

	"github.com/KDmytro/k-base/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) CreateTopic(ctx context.Context, create *Topic) (*Topic, error) {
	return s.driver.CreateTopic(ctx, create)
}

func (s *Store) ListTopics(ctx context.Context, find *FindTopic) ([]*Topic, error) {
	return s.driver.ListTopics(ctx, find)
}

// GetTopic gets a topic by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetTopic(ctx context.Context, id string) (*Topic, error) {
	list, err := s.driver.ListTopics(ctx, &FindTopic{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateTopic(ctx context.Context, update *UpdateTopic) (*Topic, error) {
	return s.driver.UpdateTopic(ctx, update)
}

func (s *Store) DeleteTopic(ctx context.Context, delete *DeleteTopic) error {
	return s.driver.DeleteTopic(ctx, delete)
}

func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	return s.driver.CreateSession(ctx, create)
}

func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

// GetSession gets a session by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	list, err := s.driver.ListSessions(ctx, &FindSession{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error) {
	return s.driver.UpdateSession(ctx, update)
}

func (s *Store) DeleteSession(ctx context.Context, delete *DeleteSession) error {
	return s.driver.DeleteSession(ctx, delete)
}

func (s *Store) CreateNode(ctx context.Context, create *Node) (*Node, error) {
	return s.driver.CreateNode(ctx, create)
}

func (s *Store) ListNodes(ctx context.Context, find *FindNode) ([]*Node, error) {
	return s.driver.ListNodes(ctx, find)
}

func (s *Store) UpdateNode(ctx context.Context, update *UpdateNode) (*Node, error) {
	return s.driver.UpdateNode(ctx, update)
}

func (s *Store) DeleteNode(ctx context.Context, delete *DeleteNode) error {
	return s.driver.DeleteNode(ctx, delete)
}

func (s *Store) CreateMemoryChunk(ctx context.Context, create *MemoryChunk) (*MemoryChunk, error) {
	return s.driver.CreateMemoryChunk(ctx, create)
}

func (s *Store) ListMemoryChunks(ctx context.Context, find *FindMemoryChunk) ([]*MemoryChunk, error) {
	return s.driver.ListMemoryChunks(ctx, find)
}

func (s *Store) DeleteMemoryChunk(ctx context.Context, delete *DeleteMemoryChunk) error {
	return s.driver.DeleteMemoryChunk(ctx, delete)
}

func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryChunkWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.VectorSearch(ctx, opts)
}
