package views

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

func TestNewStore_SeedsGenerationZero(t *testing.T) {
	s := NewStore()
	v := s.Current()
	require.NotNil(t, v)
	assert.Equal(t, uint64(0), v.Generation)
	assert.Empty(t, v.TopFlips)
}

func TestBuild_IncrementsGenerationMonotonically(t *testing.T) {
	s := NewStore()
	v1 := s.Build(nil, nil, nil, nil, 10)
	v2 := s.Build(nil, nil, nil, nil, 10)
	assert.Equal(t, uint64(1), v1.Generation)
	assert.Equal(t, uint64(2), v2.Generation)
}

func TestBuild_RanksTopFlipsByMarginDescending(t *testing.T) {
	s := NewStore()
	flips := []model.FlipCandidate{
		{ItemID: 1, MarginGP: 100},
		{ItemID: 2, MarginGP: 500},
		{ItemID: 3, MarginGP: 300},
	}
	v := s.Build(nil, nil, flips, nil, 10)
	require.Len(t, v.TopFlips, 3)
	assert.Equal(t, model.ItemID(2), v.TopFlips[0].ItemID)
	assert.Equal(t, model.ItemID(3), v.TopFlips[1].ItemID)
	assert.Equal(t, model.ItemID(1), v.TopFlips[2].ItemID)
}

func TestBuild_TopNTruncates(t *testing.T) {
	s := NewStore()
	flips := []model.FlipCandidate{
		{ItemID: 1, MarginGP: 100},
		{ItemID: 2, MarginGP: 500},
		{ItemID: 3, MarginGP: 300},
	}
	v := s.Build(nil, nil, flips, nil, 2)
	assert.Len(t, v.TopFlips, 2)
}

func TestBuild_TieBreaksByAscendingItemID(t *testing.T) {
	s := NewStore()
	flips := []model.FlipCandidate{
		{ItemID: 9, MarginGP: 100},
		{ItemID: 4, MarginGP: 100},
	}
	v := s.Build(nil, nil, flips, nil, 10)
	require.Len(t, v.TopFlips, 2)
	assert.Equal(t, model.ItemID(4), v.TopFlips[0].ItemID)
}

func TestBuild_PublishedViewIsIndependentOfCallerSlice(t *testing.T) {
	s := NewStore()
	flips := []model.FlipCandidate{{ItemID: 1, MarginGP: 100}}
	v := s.Build(nil, nil, flips, nil, 10)
	flips[0].MarginGP = 999
	assert.Equal(t, int64(100), v.TopFlips[0].MarginGP, "Build must copy, not alias, the input slice")
}

func TestDumpByItem(t *testing.T) {
	s := NewStore()
	dumps := []model.DumpEvent{{ItemID: 5, Score: 40}}
	v := s.Build(dumps, nil, nil, nil, 10)

	d, ok := v.DumpByItem(5)
	require.True(t, ok)
	assert.Equal(t, 40.0, d.Score)

	_, ok = v.DumpByItem(6)
	assert.False(t, ok)
}

func TestCurrent_ReflectsLatestBuild(t *testing.T) {
	s := NewStore()
	s.Build([]model.DumpEvent{{ItemID: 1}}, nil, nil, nil, 10)
	s.Build([]model.DumpEvent{{ItemID: 2}}, nil, nil, nil, 10)

	v := s.Current()
	require.Len(t, v.Dumps, 1)
	assert.Equal(t, model.ItemID(2), v.Dumps[0].ItemID)
}
