package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/territory-assign/pkg/model"
)

func TestIsTransientMatchesKnownRetryableSubstrings(t *testing.T) {
	assert.True(t, isTransient(errors.New("upstream connection reset")))
	assert.True(t, isTransient(errors.New("request TIMEOUT after 5s")))
	assert.True(t, isTransient(errors.New("statement_canceled by user")))
	assert.True(t, isTransient(errors.New("429 too_many_requests")))
	assert.False(t, isTransient(errors.New("invalid build id")))
	assert.False(t, isTransient(nil))
}

func TestBatchSplitsIntoConfiguredSizes(t *testing.T) {
	proposals := make([]model.Proposal, 1203)
	batches := batch(proposals, 500)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 500)
	assert.Len(t, batches[1], 500)
	assert.Len(t, batches[2], 203)
}

func TestBatchOfEmptySliceYieldsOneEmptyBatch(t *testing.T) {
	batches := batch(nil, 500)
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0])
}

func TestMemoryStoreFiltersByCohortAndTier(t *testing.T) {
	store := NewMemoryStore()
	store.Accounts["build-1"] = []model.Account{
		{AccountID: "a1", IsCustomer: true, Tier: model.TierOne},
		{AccountID: "a2", IsCustomer: true, Tier: model.TierTwo},
		{AccountID: "a3", IsCustomer: false},
	}

	accounts, err := store.ReadAccounts(context.Background(), "build-1", model.CohortCustomer, string(model.TierOne))
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "a1", accounts[0].AccountID)
}

func TestMemoryStoreRoundTripsProposals(t *testing.T) {
	store := NewMemoryStore()
	err := store.WriteProposals(context.Background(), "build-1", []model.Proposal{{AccountID: "a1"}})
	require.NoError(t, err)
	assert.Len(t, store.Proposals, 1)
}
