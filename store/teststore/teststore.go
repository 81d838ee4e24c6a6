// Package teststore provides an in-memory store.Driver for tests. It
// mirrors the transactional semantics of the SQL drivers (sibling index
// assignment, selection flips, weighted vector search) behind one mutex.
package teststore

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

type Driver struct {
	mu       sync.Mutex
	topics   map[string]*store.Topic
	sessions map[string]*store.Session
	nodes    map[string]*store.Node
	chunks   map[string]*store.MemoryChunk
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		topics:   map[string]*store.Topic{},
		sessions: map[string]*store.Session{},
		nodes:    map[string]*store.Node{},
		chunks:   map[string]*store.MemoryChunk{},
	}
}

func (*Driver) GetDB() *sql.DB                { return nil }
func (*Driver) Close() error                  { return nil }
func (*Driver) Migrate(context.Context) error { return nil }

func copyNode(n *store.Node) *store.Node {
	out := *n
	if n.Selection != nil {
		sel := *n.Selection
		out.Selection = &sel
	}
	return &out
}

func (d *Driver) CreateTopic(_ context.Context, create *store.Topic) (*store.Topic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics[create.ID] = create
	return create, nil
}

func (d *Driver) ListTopics(_ context.Context, find *store.FindTopic) ([]*store.Topic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.Topic
	for _, t := range d.topics {
		if find.ID != nil && t.ID != *find.ID {
			continue
		}
		list = append(list, t)
	}
	return list, nil
}

func (d *Driver) UpdateTopic(_ context.Context, update *store.UpdateTopic) (*store.Topic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.topics[update.ID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "topic %s", update.ID)
	}
	if update.Name != nil {
		t.Name = *update.Name
	}
	if update.Description != nil {
		t.Description = update.Description
	}
	if update.UpdatedTs != nil {
		t.UpdatedTs = *update.UpdatedTs
	}
	return t, nil
}

func (d *Driver) DeleteTopic(_ context.Context, del *store.DeleteTopic) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.topics[del.ID]; !ok {
		return errors.Wrapf(store.ErrNotFound, "topic %s", del.ID)
	}
	for id, s := range d.sessions {
		if s.TopicID == del.ID {
			d.deleteSessionLocked(id)
		}
	}
	delete(d.topics, del.ID)
	return nil
}

func (d *Driver) CreateSession(_ context.Context, create *store.Session) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[create.ID] = create
	return create, nil
}

func (d *Driver) ListSessions(_ context.Context, find *store.FindSession) ([]*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*store.Session
	for _, s := range d.sessions {
		if find.ID != nil && s.ID != *find.ID {
			continue
		}
		if find.TopicID != nil && s.TopicID != *find.TopicID {
			continue
		}
		list = append(list, s)
	}
	return list, nil
}

func (d *Driver) UpdateSession(_ context.Context, update *store.UpdateSession) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[update.ID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "session %s", update.ID)
	}
	if update.Name != nil {
		s.Name = *update.Name
	}
	if update.Description != nil {
		s.Description = update.Description
	}
	if update.DefaultModel != nil {
		s.DefaultModel = update.DefaultModel
	}
	if update.RootNodeID != nil {
		s.RootNodeID = update.RootNodeID
	}
	if update.UpdatedTs != nil {
		s.UpdatedTs = *update.UpdatedTs
	}
	return s, nil
}

func (d *Driver) DeleteSession(_ context.Context, del *store.DeleteSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[del.ID]; !ok {
		return errors.Wrapf(store.ErrNotFound, "session %s", del.ID)
	}
	d.deleteSessionLocked(del.ID)
	return nil
}

func (d *Driver) deleteSessionLocked(sessionID string) {
	for id, n := range d.nodes {
		if n.SessionID == sessionID {
			delete(d.nodes, id)
		}
	}
	for id, c := range d.chunks {
		if c.SessionID == sessionID {
			delete(d.chunks, id)
		}
	}
	delete(d.sessions, sessionID)
}

func (d *Driver) CreateNode(_ context.Context, create *store.Node) (*store.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if create.ParentID != nil {
		if _, ok := d.nodes[*create.ParentID]; !ok {
			return nil, errors.Wrapf(store.ErrNotFound, "parent node %s", *create.ParentID)
		}
	} else if _, ok := d.sessions[create.SessionID]; !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "session %s", create.SessionID)
	}

	maxIndex := -1
	for _, n := range d.nodes {
		if !sameSiblingSet(n, create) {
			continue
		}
		if n.SiblingIndex > maxIndex {
			maxIndex = n.SiblingIndex
		}
	}
	create.SiblingIndex = maxIndex + 1

	if create.Type.IsMainConversation() && create.IsSelectedPath {
		for _, n := range d.nodes {
			if sameSiblingSet(n, create) && n.Type.IsMainConversation() {
				n.IsSelectedPath = false
			}
		}
	}

	if create.ParentID == nil {
		if s := d.sessions[create.SessionID]; s.RootNodeID == nil {
			id := create.ID
			s.RootNodeID = &id
		}
	}

	d.nodes[create.ID] = copyNode(create)
	return create, nil
}

func sameSiblingSet(a, b *store.Node) bool {
	if a.SessionID != b.SessionID {
		return false
	}
	if (a.ParentID == nil) != (b.ParentID == nil) {
		return false
	}
	if a.ParentID != nil && *a.ParentID != *b.ParentID {
		return false
	}
	return true
}

func (d *Driver) ListNodes(_ context.Context, find *store.FindNode) ([]*store.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Node{}
	for _, n := range d.nodes {
		if find.ID != nil && n.ID != *find.ID {
			continue
		}
		if find.SessionID != nil && n.SessionID != *find.SessionID {
			continue
		}
		if find.ParentID != nil && (n.ParentID == nil || *n.ParentID != *find.ParentID) {
			continue
		}
		if find.RootOnly && n.ParentID != nil {
			continue
		}
		if len(find.Types) > 0 && !containsType(find.Types, n.Type) {
			continue
		}
		if len(find.Statuses) > 0 && !containsStatus(find.Statuses, n.Status) {
			continue
		}
		if find.Selection != nil && !find.Selection.Equal(n.Selection) {
			continue
		}
		if find.Selection == nil && find.SelectionNull && n.Selection != nil {
			continue
		}
		list = append(list, copyNode(n))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SiblingIndex != list[j].SiblingIndex {
			return list[i].SiblingIndex < list[j].SiblingIndex
		}
		return list[i].CreatedTs < list[j].CreatedTs
	})
	return list, nil
}

func containsType(types []store.NodeType, t store.NodeType) bool {
	for _, known := range types {
		if known == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []store.NodeStatus, s store.NodeStatus) bool {
	for _, known := range statuses {
		if known == s {
			return true
		}
	}
	return false
}

func (d *Driver) UpdateNode(_ context.Context, update *store.UpdateNode) (*store.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[update.ID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "node %s", update.ID)
	}
	if update.Content != nil {
		n.Content = *update.Content
	}
	if update.Status != nil {
		n.Status = *update.Status
	}
	if update.BranchName != nil {
		n.BranchName = update.BranchName
	}
	if update.CollapsedSummary != nil {
		n.CollapsedSummary = update.CollapsedSummary
	}
	if update.IsSelectedPath != nil {
		n.IsSelectedPath = *update.IsSelectedPath
	}
	if update.TokenCount != nil {
		n.TokenCount = update.TokenCount
	}
	if update.GenerationConfig != nil {
		n.GenerationConfig = update.GenerationConfig
	}
	if update.UpdatedTs != nil {
		n.UpdatedTs = *update.UpdatedTs
	}
	return copyNode(n), nil
}

func (d *Driver) DeleteNode(_ context.Context, del *store.DeleteNode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[del.ID]; !ok {
		return errors.Wrapf(store.ErrNotFound, "node %s", del.ID)
	}
	d.deleteSubtreeLocked(del.ID)
	return nil
}

func (d *Driver) deleteSubtreeLocked(nodeID string) {
	for id, n := range d.nodes {
		if n.ParentID != nil && *n.ParentID == nodeID {
			d.deleteSubtreeLocked(id)
		}
	}
	for id, c := range d.chunks {
		if c.NodeID != nil && *c.NodeID == nodeID {
			delete(d.chunks, id)
		}
	}
	delete(d.nodes, nodeID)
}

func (d *Driver) SelectBranch(_ context.Context, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, ok := d.nodes[nodeID]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "node %s", nodeID)
	}
	if !target.Type.IsMainConversation() {
		return errors.Errorf("node %s is a %s node and does not compete for the selected path", nodeID, target.Type)
	}
	for _, n := range d.nodes {
		if sameSiblingSet(n, target) && n.Type.IsMainConversation() {
			n.IsSelectedPath = n.ID == nodeID
		}
	}
	return nil
}

func (d *Driver) CreateMemoryChunk(_ context.Context, create *store.MemoryChunk) (*store.MemoryChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunks[create.ID] = create
	return create, nil
}

func (d *Driver) ListMemoryChunks(_ context.Context, find *store.FindMemoryChunk) ([]*store.MemoryChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.MemoryChunk{}
	for _, c := range d.chunks {
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.TopicID != nil && c.TopicID != *find.TopicID {
			continue
		}
		if find.SessionID != nil && c.SessionID != *find.SessionID {
			continue
		}
		if find.NodeID != nil && (c.NodeID == nil || *c.NodeID != *find.NodeID) {
			continue
		}
		if find.ContentType != nil && c.ContentType != *find.ContentType {
			continue
		}
		list = append(list, c)
	}
	return list, nil
}

func (d *Driver) DeleteMemoryChunk(_ context.Context, del *store.DeleteMemoryChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.chunks {
		if c.NodeID != nil && *c.NodeID == del.NodeID {
			delete(d.chunks, id)
		}
	}
	return nil
}

func (d *Driver) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryChunkWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessionFilter := map[string]bool{}
	for _, id := range opts.SessionIDs {
		sessionFilter[id] = true
	}

	list := []*store.MemoryChunkWithScore{}
	for _, c := range d.chunks {
		if c.TopicID != opts.TopicID {
			continue
		}
		if len(sessionFilter) > 0 && !sessionFilter[c.SessionID] {
			continue
		}
		similarity := cosine(opts.Vector, c.Embedding)
		list = append(list, &store.MemoryChunkWithScore{
			Chunk:         c,
			Similarity:    similarity,
			WeightedScore: similarity * c.PriorityBoost,
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].WeightedScore > list[j].WeightedScore
	})
	if len(list) > opts.Limit {
		list = list[:opts.Limit]
	}
	return list, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
