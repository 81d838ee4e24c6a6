package store

// Session is an individual conversation tree within a topic.
type Session struct {
	ID           string
	TopicID      string
	Name         string
	Description  *string
	RootNodeID   *string // set when the first node is created
	DefaultModel *string
	CreatedTs    int64
	UpdatedTs    int64
}

// FindSession is the find condition for sessions.
type FindSession struct {
	ID      *string
	TopicID *string
}

// UpdateSession is the update descriptor for a session.
type UpdateSession struct {
	ID           string
	Name         *string
	Description  *string
	DefaultModel *string
	RootNodeID   *string
	UpdatedTs    *int64
}

// DeleteSession deletes a session and all of its nodes and memory chunks.
type DeleteSession struct {
	ID string
}
