package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakline/advisory/internal/memory"
)

// Events persists episodic events. Implements memory.EventRepo.
type Events struct {
	db *pgxpool.Pool
}

const eventColumns = `
	memory_id, vector_id, client_id, agent_source, event_type, timestamp,
	event_summary, full_transcript, tags, embedding, importance_score,
	emotional_valence, participants, related_assets, created_at,
	last_accessed, access_count`

// Insert appends a new episodic event.
func (r *Events) Insert(ctx context.Context, ev *memory.EpisodicEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO episodic_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		ev.MemoryID, ev.VectorID, ev.ClientID, ev.AgentSource, ev.EventType, ev.Timestamp,
		ev.EventSummary, ev.FullTranscript, ev.Tags, ev.Embedding, ev.ImportanceScore,
		ev.EmotionalValence, ev.Participants, ev.RelatedAssets, ev.CreatedAt,
		ev.LastAccessed, ev.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.MemoryID, err)
	}
	return nil
}

// GetByMemoryIDs loads events by id. Unknown ids are skipped.
func (r *Events) GetByMemoryIDs(ctx context.Context, ids []string) ([]*memory.EpisodicEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM episodic_events WHERE memory_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Timeline returns a client's events with timestamp in [start, end],
// ordered ascending.
func (r *Events) Timeline(ctx context.Context, clientID string, start, end time.Time) ([]*memory.EpisodicEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM episodic_events
		WHERE client_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp`, clientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("timeline for %s: %w", clientID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// TouchAccessed bumps access counters for retrieved events.
func (r *Events) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE episodic_events
		SET last_accessed = $2, access_count = access_count + 1
		WHERE memory_id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("touch events: %w", err)
	}
	return nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows pgxRows) ([]*memory.EpisodicEvent, error) {
	var events []*memory.EpisodicEvent
	for rows.Next() {
		var ev memory.EpisodicEvent
		if err := rows.Scan(
			&ev.MemoryID, &ev.VectorID, &ev.ClientID, &ev.AgentSource, &ev.EventType, &ev.Timestamp,
			&ev.EventSummary, &ev.FullTranscript, &ev.Tags, &ev.Embedding, &ev.ImportanceScore,
			&ev.EmotionalValence, &ev.Participants, &ev.RelatedAssets, &ev.CreatedAt,
			&ev.LastAccessed, &ev.AccessCount,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
