package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

const snapshotColumns = `id, snapshot_name, user_prompt, system_prompt, model_name, cot_prompt,
	initial_response, thinking, reflection, final_response, created_at, tags`

// CreateSnapshot stores a new snapshot and returns its id. Name and user
// prompt are required; name and tags are trimmed.
func (c *Client) CreateSnapshot(ctx context.Context, in models.SnapshotInput) (int64, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Tags = strings.TrimSpace(in.Tags)

	if in.Name == "" {
		return 0, apperr.Invalid("name", "snapshot name is required")
	}
	if strings.TrimSpace(in.UserPrompt) == "" {
		return 0, apperr.Invalid("user_prompt", "there is no prompt to save")
	}

	query := `
		INSERT INTO snapshots (snapshot_name, user_prompt, system_prompt, model_name, cot_prompt,
			initial_response, thinking, reflection, final_response, created_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.ExecContext(ctx, query,
		in.Name,
		in.UserPrompt,
		in.SystemPrompt,
		in.ModelName,
		in.CoTPrompt,
		in.InitialResponse,
		in.Thinking,
		in.Reflection,
		in.FinalResponse,
		toMillis(c.now()),
		in.Tags,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	logger.Debug("Snapshot inserted", logger.SnapshotID(id), zap.String("name", in.Name))
	return id, nil
}

// ListSnapshots returns summaries newest first. A non-empty search keeps
// rows whose name, user prompt or tags contain it, ignoring case.
func (c *Client) ListSnapshots(ctx context.Context, search string) ([]models.SnapshotSummary, error) {
	query := `SELECT id, snapshot_name, created_at, model_name, user_prompt, tags FROM snapshots`
	var args []any

	if search = strings.TrimSpace(search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		query += ` WHERE snapshot_name LIKE ? ESCAPE '\' OR user_prompt LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	summaries := []models.SnapshotSummary{}
	for rows.Next() {
		var (
			s         models.SnapshotSummary
			createdAt int64
			modelName sql.NullString
			tags      sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Name, &createdAt, &modelName, &s.UserPrompt, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot summary: %w", err)
		}
		s.CreatedAt = fromMillis(createdAt)
		s.ModelName = modelName.String
		s.Tags = tags.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return summaries, nil
}

func (c *Client) GetSnapshot(ctx context.Context, id int64) (*models.Snapshot, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)

	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("snapshot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// AllSnapshots returns every snapshot with all fields, newest first.
func (c *Client) AllSnapshots(ctx context.Context) ([]models.Snapshot, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to export snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []models.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to export snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteSnapshot removes a snapshot for good. Evaluations that reference it
// are left in place.
func (c *Client) DeleteSnapshot(ctx context.Context, id int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("snapshot", id)
	}

	logger.Debug("Snapshot deleted", logger.SnapshotID(id))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		s         models.Snapshot
		createdAt int64
		opt       [8]sql.NullString
	)

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.UserPrompt,
		&opt[0],
		&opt[1],
		&opt[2],
		&opt[3],
		&opt[4],
		&opt[5],
		&opt[6],
		&createdAt,
		&opt[7],
	)
	if err != nil {
		return nil, err
	}

	s.SystemPrompt = opt[0].String
	s.ModelName = opt[1].String
	s.CoTPrompt = opt[2].String
	s.InitialResponse = opt[3].String
	s.Thinking = opt[4].String
	s.Reflection = opt[5].String
	s.FinalResponse = opt[6].String
	s.Tags = opt[7].String
	s.CreatedAt = fromMillis(createdAt)

	return &s, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
