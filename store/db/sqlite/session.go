package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	fields := []string{"id", "topic_id", "name", "description", "default_model", "created_ts", "updated_ts"}
	args := []any{create.ID, create.TopicID, create.Name, create.Description, create.DefaultModel, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return create, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.TopicID != nil {
		where, args = append(where, "topic_id = "+placeholder(len(args)+1)), append(args, *find.TopicID)
	}

	query := `
		SELECT id, topic_id, name, description, root_node_id, default_model, created_ts, updated_ts
		FROM session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	list := []*store.Session{}
	for rows.Next() {
		var session store.Session
		if err := rows.Scan(
			&session.ID,
			&session.TopicID,
			&session.Name,
			&session.Description,
			&session.RootNodeID,
			&session.DefaultModel,
			&session.CreatedTs,
			&session.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		list = append(list, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.Description != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *update.Description)
	}
	if update.DefaultModel != nil {
		set, args = append(set, "default_model = "+placeholder(len(args)+1)), append(args, *update.DefaultModel)
	}
	if update.RootNodeID != nil {
		set, args = append(set, "root_node_id = "+placeholder(len(args)+1)), append(args, *update.RootNodeID)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `
		UPDATE session
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, topic_id, name, description, root_node_id, default_model, created_ts, updated_ts
	`
	var session store.Session
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&session.ID,
		&session.TopicID,
		&session.Name,
		&session.Description,
		&session.RootNodeID,
		&session.DefaultModel,
		&session.CreatedTs,
		&session.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}
	return &session, nil
}

func (d *DB) DeleteSession(ctx context.Context, delete *store.DeleteSession) error {
	stmt := `DELETE FROM session WHERE id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "session %s", delete.ID)
	}
	return nil
}
