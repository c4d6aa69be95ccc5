package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

const evaluationColumns = `id, snapshot1_id, snapshot2_id, judge_model, aspects, metrics,
	custom_criteria, labels, verdict, scores, created_at`

// CreateEvaluation stores a verdict and sets eval.ID and eval.CreatedAt.
func (c *Client) CreateEvaluation(ctx context.Context, eval *models.Evaluation) (int64, error) {
	aspects, err := json.Marshal(eval.Aspects)
	if err != nil {
		return 0, fmt.Errorf("failed to encode aspects: %w", err)
	}
	metrics, err := json.Marshal(eval.Metrics)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metrics: %w", err)
	}
	labels, err := json.Marshal(eval.Labels)
	if err != nil {
		return 0, fmt.Errorf("failed to encode labels: %w", err)
	}
	scores, err := json.Marshal(eval.Scores)
	if err != nil {
		return 0, fmt.Errorf("failed to encode scores: %w", err)
	}

	query := `
		INSERT INTO evaluations (snapshot1_id, snapshot2_id, judge_model, aspects, metrics,
			custom_criteria, labels, verdict, scores, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	createdAt := c.now()
	res, err := c.db.ExecContext(ctx, query,
		eval.Snapshot1ID,
		eval.Snapshot2ID,
		eval.JudgeModel,
		string(aspects),
		string(metrics),
		eval.CustomCriteria,
		string(labels),
		eval.Verdict,
		string(scores),
		toMillis(createdAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert evaluation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read evaluation id: %w", err)
	}

	eval.ID = id
	eval.CreatedAt = fromMillis(toMillis(createdAt))

	logger.Debug("Evaluation inserted",
		logger.EvaluationID(id),
		zap.Int64("snapshot1_id", eval.Snapshot1ID),
		zap.Int64("snapshot2_id", eval.Snapshot2ID),
	)
	return id, nil
}

func (c *Client) GetEvaluation(ctx context.Context, id int64) (*models.Evaluation, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id)

	eval, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("evaluation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	return eval, nil
}

// ListEvaluationsForSnapshot returns evaluations that compared the snapshot
// on either side, newest first.
func (c *Client) ListEvaluationsForSnapshot(ctx context.Context, snapshotID int64) ([]models.Evaluation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations
		WHERE snapshot1_id = ? OR snapshot2_id = ?
		ORDER BY created_at DESC, id DESC`,
		snapshotID, snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []models.Evaluation{}
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, *eval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return evals, nil
}

func scanEvaluation(row rowScanner) (*models.Evaluation, error) {
	var (
		eval                            models.Evaluation
		aspects, metrics, labels, score sql.NullString
		criteria, verdict               sql.NullString
		createdAt                       int64
	)

	err := row.Scan(
		&eval.ID,
		&eval.Snapshot1ID,
		&eval.Snapshot2ID,
		&eval.JudgeModel,
		&aspects,
		&metrics,
		&criteria,
		&labels,
		&verdict,
		&score,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	eval.CustomCriteria = criteria.String
	eval.Verdict = verdict.String
	eval.CreatedAt = fromMillis(createdAt)

	for _, field := range []struct {
		raw  sql.NullString
		dest any
	}{
		{aspects, &eval.Aspects},
		{metrics, &eval.Metrics},
		{labels, &eval.Labels},
		{score, &eval.Scores},
	} {
		if !field.raw.Valid || field.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw.String), field.dest); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation column: %w", err)
		}
	}

	return &eval, nil
}
