package workflow

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-automation/api/pkg/db"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping repository tests")
	}

	pool, err := db.ConnectWithConfig(context.Background(), db.Config{URI: dbURL, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestRepository_InitSchema(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	err := repo.InitSchema(context.Background())
	require.NoError(t, err)

	// Running again should be idempotent
	err = repo.InitSchema(context.Background())
	require.NoError(t, err)
}

func TestRepository_Seed_Idempotent(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	require.NoError(t, repo.Seed(ctx))
	require.NoError(t, repo.Seed(ctx)) // Second call should not error
}

func TestRepository_Get_Found(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, InitDB(ctx, pool))

	wf, err := repo.Get(ctx, sampleWorkflowID)
	require.NoError(t, err)
	require.NotNil(t, wf)

	assert.Equal(t, sampleWorkflowID, wf.ID)
	assert.Equal(t, sampleStreamerID, wf.StreamerID)
	assert.Len(t, wf.Nodes, 4)
	assert.Len(t, wf.Edges, 3)
	assert.Equal(t, RewardRedemptionTrigger{EventID: sampleRewardID}, wf.Nodes[0].Data)
}

func TestRepository_Get_NotFound(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	wf, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestRepository_SaveAndList(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	wf := &Workflow{
		ID:         uuid.NewString(),
		StreamerID: "streamer-" + uuid.NewString(),
		Name:       "Follow alert",
		Nodes:      []Node{triggerNode("t", FollowTrigger{}), actionNode("a", chat("welcome!"))},
		Edges:      []Edge{NewEdge("t", "a")},
	}
	require.NoError(t, repo.Save(ctx, wf))
	assert.False(t, wf.CreatedAt.IsZero())

	wf.Name = "Follow alert v2"
	require.NoError(t, repo.Save(ctx, wf))

	got, err := repo.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "Follow alert v2", got.Name)
	assert.Equal(t, SendChatMessage{Message: "welcome!"}, got.Nodes[1].Data)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	var found bool
	for _, w := range all {
		found = found || w.ID == wf.ID
	}
	assert.True(t, found)
}

func TestRepository_References(t *testing.T) {
	pool := getTestPool(t)
	ctx := context.Background()
	require.NoError(t, InitDB(ctx, pool))

	refs, err := NewRepository(pool).References(ctx, sampleStreamerID)

	require.NoError(t, err)
	_, ok := refs.MessageTemplate(sampleTemplateID)
	assert.True(t, ok)
	o, ok := refs.Overlay(sampleOverlayID)
	assert.True(t, ok)
	assert.NotEmpty(t, o.URL)
}
