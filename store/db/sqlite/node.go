package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/KDmytro/k-base/store"
)

const nodeColumns = `id, session_id, parent_id, content, node_type, status, branch_name, collapsed_summary,
	selected_text, selection_start, selection_end, generation_config, token_count,
	sibling_index, is_selected_path, created_ts, updated_ts`

func typeList(types []store.NodeType, args *[]any) string {
	holders := make([]string, 0, len(types))
	for _, t := range types {
		*args = append(*args, string(t))
		holders = append(holders, "?")
	}
	return "node_type IN (" + strings.Join(holders, ", ") + ")"
}

func scanNode(scan func(dest ...any) error) (*store.Node, error) {
	var node store.Node
	var selectedText sql.NullString
	var selectionStart, selectionEnd sql.NullInt64
	var generationConfig sql.NullString
	if err := scan(
		&node.ID,
		&node.SessionID,
		&node.ParentID,
		&node.Content,
		&node.Type,
		&node.Status,
		&node.BranchName,
		&node.CollapsedSummary,
		&selectedText,
		&selectionStart,
		&selectionEnd,
		&generationConfig,
		&node.TokenCount,
		&node.SiblingIndex,
		&node.IsSelectedPath,
		&node.CreatedTs,
		&node.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan node")
	}
	if selectedText.Valid {
		node.Selection = &store.Selection{
			Text:        selectedText.String,
			StartOffset: int(selectionStart.Int64),
			EndOffset:   int(selectionEnd.Int64),
		}
	}
	if generationConfig.Valid && generationConfig.String != "" {
		if err := json.Unmarshal([]byte(generationConfig.String), &node.GenerationConfig); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal generation config")
		}
	}
	return &node, nil
}

func marshalGenerationConfig(config map[string]any) (any, error) {
	if config == nil {
		return nil, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal generation config")
	}
	return string(raw), nil
}

// CreateNode inserts a node inside a transaction. The single SQLite
// connection serializes transactions, so sibling index assignment and
// selection flips cannot race.
func (d *DB) CreateNode(ctx context.Context, create *store.Node) (*store.Node, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if create.ParentID != nil {
		var parentID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM node WHERE id = ?`, *create.ParentID).Scan(&parentID)
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(store.ErrNotFound, "parent node %s", *create.ParentID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to check parent node")
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sibling_index) + 1, 0) FROM node WHERE parent_id = ?`,
			*create.ParentID,
		).Scan(&create.SiblingIndex); err != nil {
			return nil, errors.Wrap(err, "failed to compute sibling index")
		}
	} else {
		var sessionID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM session WHERE id = ?`, create.SessionID).Scan(&sessionID)
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(store.ErrNotFound, "session %s", create.SessionID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to check session")
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sibling_index) + 1, 0) FROM node WHERE session_id = ? AND parent_id IS NULL`,
			create.SessionID,
		).Scan(&create.SiblingIndex); err != nil {
			return nil, errors.Wrap(err, "failed to compute sibling index")
		}
	}

	generationConfig, err := marshalGenerationConfig(create.GenerationConfig)
	if err != nil {
		return nil, err
	}
	var selectedText any
	var selectionStart, selectionEnd any
	if create.Selection != nil {
		selectedText = create.Selection.Text
		selectionStart = create.Selection.StartOffset
		selectionEnd = create.Selection.EndOffset
	}

	fields := []string{
		"id", "session_id", "parent_id", "content", "node_type", "status", "branch_name",
		"collapsed_summary", "selected_text", "selection_start", "selection_end",
		"generation_config", "token_count", "sibling_index", "is_selected_path",
		"created_ts", "updated_ts",
	}
	args := []any{
		create.ID, create.SessionID, create.ParentID, create.Content, string(create.Type),
		string(create.Status), create.BranchName, create.CollapsedSummary,
		selectedText, selectionStart, selectionEnd, generationConfig, create.TokenCount,
		create.SiblingIndex, create.IsSelectedPath, create.CreatedTs, create.UpdatedTs,
	}
	stmt := `INSERT INTO node (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create node")
	}

	if create.Type.IsMainConversation() && create.IsSelectedPath {
		if create.ParentID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE node SET is_selected_path = FALSE
				 WHERE parent_id = ? AND id <> ? AND node_type IN ('user_message', 'assistant_message')`,
				*create.ParentID, create.ID,
			); err != nil {
				return nil, errors.Wrap(err, "failed to deselect siblings")
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE node SET is_selected_path = FALSE
				 WHERE session_id = ? AND parent_id IS NULL AND id <> ? AND node_type IN ('user_message', 'assistant_message')`,
				create.SessionID, create.ID,
			); err != nil {
				return nil, errors.Wrap(err, "failed to deselect root siblings")
			}
		}
	}

	if create.ParentID == nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session SET root_node_id = ? WHERE id = ? AND root_node_id IS NULL`,
			create.ID, create.SessionID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to set session root node")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit node creation")
	}
	return create, nil
}

func (d *DB) ListNodes(ctx context.Context, find *store.FindNode) ([]*store.Node, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.ParentID != nil {
		where, args = append(where, "parent_id = "+placeholder(len(args)+1)), append(args, *find.ParentID)
	}
	if find.RootOnly {
		where = append(where, "parent_id IS NULL")
	}
	if len(find.Types) > 0 {
		where = append(where, typeList(find.Types, &args))
	}
	if len(find.Statuses) > 0 {
		holders := make([]string, 0, len(find.Statuses))
		for _, s := range find.Statuses {
			args = append(args, string(s))
			holders = append(holders, "?")
		}
		where = append(where, "status IN ("+strings.Join(holders, ", ")+")")
	}
	if find.Selection != nil {
		where, args = append(where, "selected_text = "+placeholder(len(args)+1)), append(args, find.Selection.Text)
		where, args = append(where, "selection_start = "+placeholder(len(args)+1)), append(args, find.Selection.StartOffset)
		where, args = append(where, "selection_end = "+placeholder(len(args)+1)), append(args, find.Selection.EndOffset)
	} else if find.SelectionNull {
		where = append(where, "selected_text IS NULL")
	}

	query := `
		SELECT ` + nodeColumns + `
		FROM node
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY sibling_index ASC, created_ts ASC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nodes")
	}
	defer rows.Close()

	list := []*store.Node{}
	for rows.Next() {
		node, err := scanNode(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateNode(ctx context.Context, update *store.UpdateNode) (*store.Node, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*update.Status))
	}
	if update.BranchName != nil {
		set, args = append(set, "branch_name = "+placeholder(len(args)+1)), append(args, *update.BranchName)
	}
	if update.CollapsedSummary != nil {
		set, args = append(set, "collapsed_summary = "+placeholder(len(args)+1)), append(args, *update.CollapsedSummary)
	}
	if update.IsSelectedPath != nil {
		set, args = append(set, "is_selected_path = "+placeholder(len(args)+1)), append(args, *update.IsSelectedPath)
	}
	if update.TokenCount != nil {
		set, args = append(set, "token_count = "+placeholder(len(args)+1)), append(args, *update.TokenCount)
	}
	if update.GenerationConfig != nil {
		raw, err := marshalGenerationConfig(update.GenerationConfig)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "generation_config = "+placeholder(len(args)+1)), append(args, raw)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `
		UPDATE node
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING ` + nodeColumns
	node, err := scanNode(d.db.QueryRowContext(ctx, stmt, args...).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "node %s", update.ID)
		}
		return nil, err
	}
	return node, nil
}

// DeleteNode deletes a node and its entire subtree.
func (d *DB) DeleteNode(ctx context.Context, delete *store.DeleteNode) error {
	stmt := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM node WHERE id = ?
			UNION ALL
			SELECT n.id FROM node n INNER JOIN subtree s ON n.parent_id = s.id
		)
		DELETE FROM node WHERE id IN (SELECT id FROM subtree)
	`
	result, err := d.db.ExecContext(ctx, stmt, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete node subtree")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "node %s", delete.ID)
	}
	return nil
}

// SelectBranch flips is_selected_path across the main-conversation sibling
// set. The transaction on the single connection makes the flip atomic with
// respect to concurrent selects.
func (d *DB) SelectBranch(ctx context.Context, nodeID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID string
	var parentID sql.NullString
	var nodeType string
	err = tx.QueryRowContext(ctx,
		`SELECT session_id, parent_id, node_type FROM node WHERE id = ?`,
		nodeID,
	).Scan(&sessionID, &parentID, &nodeType)
	if err == sql.ErrNoRows {
		return errors.Wrapf(store.ErrNotFound, "node %s", nodeID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to load node")
	}
	if !store.NodeType(nodeType).IsMainConversation() {
		return errors.Errorf("node %s is a %s node and does not compete for the selected path", nodeID, nodeType)
	}

	if parentID.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE node SET is_selected_path = (id = ?)
			 WHERE parent_id = ? AND node_type IN ('user_message', 'assistant_message')`,
			nodeID, parentID.String,
		); err != nil {
			return errors.Wrap(err, "failed to update sibling selection")
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE node SET is_selected_path = (id = ?)
			 WHERE session_id = ? AND parent_id IS NULL AND node_type IN ('user_message', 'assistant_message')`,
			nodeID, sessionID,
		); err != nil {
			return errors.Wrap(err, "failed to update root sibling selection")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit branch selection")
	}
	return nil
}
