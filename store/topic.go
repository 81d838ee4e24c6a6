package store

// Topic is the top-level grouping for related sessions. Memory chunks are
// scoped to a topic; retrieval never crosses topic boundaries.
type Topic struct {
	ID          string
	Name        string
	Description *string
	CreatedTs   int64
	UpdatedTs   int64
}

// FindTopic is the find condition for topics.
type FindTopic struct {
	ID *string
}

// UpdateTopic is the update descriptor for a topic.
type UpdateTopic struct {
	ID          string
	Name        *string
	Description *string
	UpdatedTs   *int64
}

// DeleteTopic deletes a topic, cascading to its sessions, nodes and
// memory chunks.
type DeleteTopic struct {
	ID string
}
