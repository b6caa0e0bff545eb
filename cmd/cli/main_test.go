package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
)

func TestSeed_IsRepeatable(t *testing.T) {
	db, err := repository.OpenSQLite()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	rewards := repository.NewRewardRepository(db)
	rules := repository.NewActivityRuleRepository(db)

	require.NoError(t, seed(ctx, rewards, rules))
	require.NoError(t, seed(ctx, rewards, rules))

	list, err := rewards.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(defaultRewards))

	points, err := rules.PointsFor(ctx, "social_share")
	require.NoError(t, err)
	assert.Equal(t, int64(40), points)
}
