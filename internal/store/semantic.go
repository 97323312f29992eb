package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakline/advisory/internal/memory"
)

// Semantics persists versioned semantic memories. Implements
// memory.SemanticRepo. A partial unique index on (client_id, memory_type)
// WHERE is_active backs the single-active invariant at the schema level.
type Semantics struct {
	db *pgxpool.Pool
}

const semanticColumns = `
	memory_id, vector_id, client_id, memory_type, content, summary, version,
	is_active, embedding, created_at, updated_at, archived_at`

// Insert stores a new active memory. The partial unique index rejects a
// second active version for the same (client, type).
func (r *Semantics) Insert(ctx context.Context, m *memory.SemanticMemory) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO semantic_memories (`+semanticColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.MemoryID, m.VectorID, m.ClientID, m.MemoryType, m.Content, m.Summary, m.Version,
		m.IsActive, m.Embedding, m.CreatedAt, m.UpdatedAt, m.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert semantic memory %s: %w", m.MemoryID, err)
	}
	return nil
}

// Replace archives the active version for (clientID, memoryType) and
// inserts next as its successor, all inside one transaction. FOR UPDATE on
// the active row serializes concurrent replacements for the same key, so
// no interleaving can commit two active versions or skip a version number.
func (r *Semantics) Replace(ctx context.Context, clientID, memoryType string, next *memory.SemanticMemory) (prev *memory.SemanticMemory, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+semanticColumns+`
		FROM semantic_memories
		WHERE client_id = $1 AND memory_type = $2 AND is_active
		FOR UPDATE`, clientID, memoryType)

	var found memory.SemanticMemory
	scanErr := row.Scan(
		&found.MemoryID, &found.VectorID, &found.ClientID, &found.MemoryType, &found.Content, &found.Summary, &found.Version,
		&found.IsActive, &found.Embedding, &found.CreatedAt, &found.UpdatedAt, &found.ArchivedAt,
	)
	switch {
	case scanErr == nil:
		prev = &found
		next.Version = found.Version + 1
	case errors.Is(scanErr, pgx.ErrNoRows):
		next.Version = 1
	default:
		err = fmt.Errorf("lock active memory: %w", scanErr)
		return nil, err
	}

	if prev != nil {
		if _, err = tx.Exec(ctx, `
			UPDATE semantic_memories
			SET is_active = FALSE, archived_at = $2
			WHERE memory_id = $1`, prev.MemoryID, next.UpdatedAt); err != nil {
			err = fmt.Errorf("archive memory %s: %w", prev.MemoryID, err)
			return nil, err
		}
		at := next.UpdatedAt
		prev.IsActive = false
		prev.ArchivedAt = &at
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO semantic_memories (`+semanticColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		next.MemoryID, next.VectorID, next.ClientID, next.MemoryType, next.Content, next.Summary, next.Version,
		next.IsActive, next.Embedding, next.CreatedAt, next.UpdatedAt, next.ArchivedAt,
	); err != nil {
		err = fmt.Errorf("insert successor %s: %w", next.MemoryID, err)
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace: %w", err)
	}
	return prev, nil
}

// GetActive returns the active memory for (clientID, memoryType), or nil.
func (r *Semantics) GetActive(ctx context.Context, clientID, memoryType string) (*memory.SemanticMemory, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+semanticColumns+`
		FROM semantic_memories
		WHERE client_id = $1 AND memory_type = $2 AND is_active`, clientID, memoryType)

	var m memory.SemanticMemory
	err := row.Scan(
		&m.MemoryID, &m.VectorID, &m.ClientID, &m.MemoryType, &m.Content, &m.Summary, &m.Version,
		&m.IsActive, &m.Embedding, &m.CreatedAt, &m.UpdatedAt, &m.ArchivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active memory: %w", err)
	}
	return &m, nil
}

// ListActive returns all active memories for a client.
func (r *Semantics) ListActive(ctx context.Context, clientID string) ([]*memory.SemanticMemory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+semanticColumns+`
		FROM semantic_memories
		WHERE client_id = $1 AND is_active
		ORDER BY memory_type`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list active memories: %w", err)
	}
	defer rows.Close()
	return scanSemantics(rows)
}

// GetByMemoryIDs loads memories by id, active or archived.
func (r *Semantics) GetByMemoryIDs(ctx context.Context, ids []string) ([]*memory.SemanticMemory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+semanticColumns+`
		FROM semantic_memories WHERE memory_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get semantic memories: %w", err)
	}
	defer rows.Close()
	return scanSemantics(rows)
}

func scanSemantics(rows pgxRows) ([]*memory.SemanticMemory, error) {
	var memories []*memory.SemanticMemory
	for rows.Next() {
		var m memory.SemanticMemory
		if err := rows.Scan(
			&m.MemoryID, &m.VectorID, &m.ClientID, &m.MemoryType, &m.Content, &m.Summary, &m.Version,
			&m.IsActive, &m.Embedding, &m.CreatedAt, &m.UpdatedAt, &m.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan semantic memory: %w", err)
		}
		memories = append(memories, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate semantic memories: %w", err)
	}
	return memories, nil
}
