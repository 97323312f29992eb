package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakline/advisory/internal/memory"
)

// Procedures persists learned procedures and their execution history.
// Implements memory.ProcedureRepo.
type Procedures struct {
	db *pgxpool.Pool
}

const procedureColumns = `
	procedure_id, vector_id, client_id, name, description, trigger_condition,
	steps, roles, success_indicators, category, learned_from, confidence,
	success_count, failure_count, version, embedding, created_at, updated_at`

// Insert stores a new procedure.
func (r *Procedures) Insert(ctx context.Context, p *memory.Procedure) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO procedures (`+procedureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ProcedureID, p.VectorID, p.ClientID, p.Name, p.Description, p.Trigger,
		p.Steps, p.Roles, p.SuccessIndicators, p.Category, p.LearnedFrom, p.Confidence,
		p.SuccessCount, p.FailureCount, p.Version, p.Embedding, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert procedure %s: %w", p.ProcedureID, err)
	}
	return nil
}

// Get returns a procedure by id, or nil when absent.
func (r *Procedures) Get(ctx context.Context, procedureID string) (*memory.Procedure, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+procedureColumns+`
		FROM procedures WHERE procedure_id = $1`, procedureID)

	p, err := scanProcedure(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get procedure %s: %w", procedureID, err)
	}
	return p, nil
}

// Update rewrites a procedure's mutable fields.
func (r *Procedures) Update(ctx context.Context, p *memory.Procedure) error {
	_, err := r.db.Exec(ctx, `
		UPDATE procedures
		SET trigger_condition = $2, steps = $3, success_indicators = $4,
		    confidence = $5, success_count = $6, failure_count = $7,
		    version = $8, updated_at = $9
		WHERE procedure_id = $1`,
		p.ProcedureID, p.Trigger, p.Steps, p.SuccessIndicators,
		p.Confidence, p.SuccessCount, p.FailureCount,
		p.Version, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update procedure %s: %w", p.ProcedureID, err)
	}
	return nil
}

// List returns a client's procedures, optionally filtered to one category.
func (r *Procedures) List(ctx context.Context, clientID, category string) ([]*memory.Procedure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+procedureColumns+`
		FROM procedures
		WHERE client_id = $1 AND ($2 = '' OR category = $2)
		ORDER BY created_at`, clientID, category)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()
	return scanProcedures(rows)
}

// GetByProcedureIDs loads procedures by id. Unknown ids are skipped.
func (r *Procedures) GetByProcedureIDs(ctx context.Context, ids []string) ([]*memory.Procedure, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+procedureColumns+`
		FROM procedures WHERE procedure_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get procedures: %w", err)
	}
	defer rows.Close()
	return scanProcedures(rows)
}

// InsertExecution appends one execution record.
func (r *Procedures) InsertExecution(ctx context.Context, rec *memory.ExecutionRecord) error {
	metrics := rec.Metrics
	if metrics == nil {
		metrics = map[string]any{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO procedure_executions (execution_id, procedure_id, outcome, metrics, executed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ExecutionID, rec.ProcedureID, rec.Outcome, metrics, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution for %s: %w", rec.ProcedureID, err)
	}
	return nil
}

// RecentExecutions returns the newest executions of a procedure, newest
// first.
func (r *Procedures) RecentExecutions(ctx context.Context, procedureID string, limit int) ([]*memory.ExecutionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT execution_id, procedure_id, outcome, metrics, executed_at
		FROM procedure_executions
		WHERE procedure_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`, procedureID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent executions for %s: %w", procedureID, err)
	}
	defer rows.Close()

	var recs []*memory.ExecutionRecord
	for rows.Next() {
		var rec memory.ExecutionRecord
		if err := rows.Scan(&rec.ExecutionID, &rec.ProcedureID, &rec.Outcome, &rec.Metrics, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return recs, nil
}

func scanProcedure(row pgx.Row) (*memory.Procedure, error) {
	var p memory.Procedure
	err := row.Scan(
		&p.ProcedureID, &p.VectorID, &p.ClientID, &p.Name, &p.Description, &p.Trigger,
		&p.Steps, &p.Roles, &p.SuccessIndicators, &p.Category, &p.LearnedFrom, &p.Confidence,
		&p.SuccessCount, &p.FailureCount, &p.Version, &p.Embedding, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProcedures(rows pgxRows) ([]*memory.Procedure, error) {
	var procs []*memory.Procedure
	for rows.Next() {
		var p memory.Procedure
		if err := rows.Scan(
			&p.ProcedureID, &p.VectorID, &p.ClientID, &p.Name, &p.Description, &p.Trigger,
			&p.Steps, &p.Roles, &p.SuccessIndicators, &p.Category, &p.LearnedFrom, &p.Confidence,
			&p.SuccessCount, &p.FailureCount, &p.Version, &p.Embedding, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan procedure: %w", err)
		}
		procs = append(procs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}
	return procs, nil
}
