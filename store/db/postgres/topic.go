package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

func (d *DB) CreateTopic(ctx context.Context, create *store.Topic) (*store.Topic, error) {
	fields := []string{"id", "name", "description", "created_ts", "updated_ts"}
	args := []any{create.ID, create.Name, create.Description, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO topic (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create topic")
	}
	return create, nil
}

func (d *DB) ListTopics(ctx context.Context, find *store.FindTopic) ([]*store.Topic, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}

	query := `
		SELECT id, name, description, created_ts, updated_ts
		FROM topic
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list topics")
	}
	defer rows.Close()

	list := []*store.Topic{}
	for rows.Next() {
		var topic store.Topic
		if err := rows.Scan(
			&topic.ID,
			&topic.Name,
			&topic.Description,
			&topic.CreatedTs,
			&topic.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan topic")
		}
		list = append(list, &topic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateTopic(ctx context.Context, update *store.UpdateTopic) (*store.Topic, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.Description != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *update.Description)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `
		UPDATE topic
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, name, description, created_ts, updated_ts
	`
	var topic store.Topic
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&topic.ID,
		&topic.Name,
		&topic.Description,
		&topic.CreatedTs,
		&topic.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update topic")
	}
	return &topic, nil
}

func (d *DB) DeleteTopic(ctx context.Context, delete *store.DeleteTopic) error {
	stmt := `DELETE FROM topic WHERE id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete topic")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "topic %s", delete.ID)
	}
	return nil
}
