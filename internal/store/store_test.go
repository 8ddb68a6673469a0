package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bigbrotr/bigbrotr/internal/pool"
)

func newTestStore(maxBatch int) *Store {
	return New(pool.New(testPoolConfig()), maxBatch)
}

func TestInsertRelays_EmptyBatchIsNoOp(t *testing.T) {
	s := newTestStore(10)
	n, err := s.InsertRelays(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCheckBatchSize_RejectsOversizedBatch(t *testing.T) {
	s := newTestStore(1)
	require.Error(t, s.checkBatchSize(2))
	require.NoError(t, s.checkBatchSize(1))
}

func TestDeleteServiceState_RejectsMismatchedLists(t *testing.T) {
	s := newTestStore(10)
	_, err := s.DeleteServiceState(context.Background(), []string{"validator"}, []string{"candidate", "extra"}, []string{"k"})
	require.Error(t, err)
}

func TestDeleteServiceState_EmptyIsNoOp(t *testing.T) {
	s := newTestStore(10)
	n, err := s.DeleteServiceState(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRefreshMaterializedView_RejectsInvalidIdentifier(t *testing.T) {
	s := newTestStore(10)
	err := s.RefreshMaterializedView(context.Background(), "relay_metadata_latest; DROP TABLE relay")
	require.Error(t, err)
}
