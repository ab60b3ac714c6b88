package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles workflow persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the workflow, template and overlay tables if they do not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          UUID PRIMARY KEY,
			streamer_id TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			nodes       JSONB NOT NULL DEFAULT '[]',
			edges       JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS workflows_streamer_idx ON workflows (streamer_id);
		CREATE TABLE IF NOT EXISTS message_templates (
			id          TEXT PRIMARY KEY,
			streamer_id TEXT NOT NULL,
			body        TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS overlays (
			id          TEXT PRIMARY KEY,
			streamer_id TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			url         TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Seed inserts the sample redemption workflow and its references if missing.
func (r *Repository) Seed(ctx context.Context) error {
	wf := sampleWorkflow()
	nodesJSON, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("marshal seed nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(wf.Edges)
	if err != nil {
		return fmt.Errorf("marshal seed edges: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO workflows (id, streamer_id, name, nodes, edges)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, wf.ID, wf.StreamerID, wf.Name, nodesJSON, edgesJSON)
	batch.Queue(`
		INSERT INTO message_templates (id, streamer_id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, sampleTemplateID, sampleStreamerID, "Hydration check! Everyone take a sip.")
	batch.Queue(`
		INSERT INTO overlays (id, streamer_id, name, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, sampleOverlayID, sampleStreamerID, "Confetti", "https://overlays.local/confetti")

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, streamer_id, name, nodes, edges, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// List returns every stored workflow, oldest first.
func (r *Repository) List(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, streamer_id, name, nodes, edges, created_at, updated_at
		FROM workflows ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		out = append(out, *wf)
	}
	return out, rows.Err()
}

// Save upserts the workflow graph. Last write wins.
func (r *Repository) Save(ctx context.Context, wf *Workflow) error {
	nodesJSON, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(wf.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO workflows (id, streamer_id, name, nodes, edges)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET streamer_id = EXCLUDED.streamer_id,
		    name = EXCLUDED.name,
		    nodes = EXCLUDED.nodes,
		    edges = EXCLUDED.edges,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`, wf.ID, wf.StreamerID, wf.Name, nodesJSON, edgesJSON).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// References loads the message templates and overlays owned by streamerID.
func (r *Repository) References(ctx context.Context, streamerID string) (*StaticResolver, error) {
	res := &StaticResolver{Templates: map[string]string{}, Overlays: map[string]Overlay{}}

	rows, err := r.db.Query(ctx, `SELECT id, body FROM message_templates WHERE streamer_id = $1`, streamerID)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("load templates: %w", err)
		}
		res.Templates[id] = body
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	rows, err = r.db.Query(ctx, `SELECT id, name, url FROM overlays WHERE streamer_id = $1`, streamerID)
	if err != nil {
		return nil, fmt.Errorf("load overlays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o Overlay
		if err := rows.Scan(&o.ID, &o.Name, &o.URL); err != nil {
			return nil, fmt.Errorf("load overlays: %w", err)
		}
		res.Overlays[o.ID] = o
	}
	return res, rows.Err()
}

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var wf Workflow
	var nodesJSON, edgesJSON []byte
	if err := row.Scan(&wf.ID, &wf.StreamerID, &wf.Name, &nodesJSON, &edgesJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &wf, nil
}

// InitDB creates the schema and seeds initial data. Called from main on startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

const (
	sampleWorkflowID = "550e8400-e29b-41d4-a716-446655440000"
	sampleStreamerID = "streamer-demo"
	sampleTemplateID = "tpl-hydrate"
	sampleOverlayID  = "overlay-confetti"
	sampleRewardID   = "reward-hydrate"
)

func sampleWorkflow() *Workflow {
	return &Workflow{
		ID:         sampleWorkflowID,
		StreamerID: sampleStreamerID,
		Name:       "Hydrate Redemption",
		Nodes: []Node{
			{
				ID: "trigger-hydrate", Kind: KindTrigger, Category: CategoryRewardRedemption,
				Position: Position{X: -160, Y: 300},
				Data:     RewardRedemptionTrigger{EventID: sampleRewardID},
			},
			{
				ID: "award", Kind: KindAction, Category: CategoryAwardPoints,
				Position: Position{X: 152, Y: 200},
				Data:     AwardPoints{Amount: 250},
			},
			{
				ID: "announce", Kind: KindAction, Category: CategorySendChatMessage,
				Position: Position{X: 460, Y: 200},
				Data:     SendChatMessage{TemplateID: sampleTemplateID},
			},
			{
				ID: "confetti", Kind: KindAction, Category: CategoryTriggerOverlay,
				Position: Position{X: 152, Y: 400},
				Data:     TriggerOverlay{OverlayID: sampleOverlayID, Effect: "burst", DurationMs: 3000},
			},
		},
		Edges: []Edge{
			NewEdge("trigger-hydrate", "award"),
			NewEdge("award", "announce"),
			NewEdge("trigger-hydrate", "confetti"),
		},
	}
}
