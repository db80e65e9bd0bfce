package chainrpc

import (
	"context"
	"testing"

	"crossbridge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ id int64 }

func (s stubClient) ChainID() int64 { return s.id }

func (stubClient) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (stubClient) TransactionByHash(context.Context, string) (bool, error) { return false, nil }

func (stubClient) TransactionReceipt(context.Context, string) (*types.Receipt, error) {
	return nil, types.ErrNotFound
}

func (stubClient) LatestGasSample(context.Context) (types.GasSample, error) {
	return types.GasSample{}, nil
}

func TestPool_For(t *testing.T) {
	p := NewPool(stubClient{id: 137}, stubClient{id: 1})

	c, err := p.For(137)
	require.NoError(t, err)
	assert.Equal(t, int64(137), c.ChainID())

	_, err = p.For(56)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)

	p.Add(stubClient{id: 56})
	assert.Equal(t, []int64{1, 56, 137}, p.ChainIDs())
}

func TestConfirmations(t *testing.T) {
	assert.Equal(t, uint64(12), Confirmations(112, 100))
	assert.Equal(t, uint64(0), Confirmations(99, 100))
}
