package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedState_RoundTrip(t *testing.T) {
	for _, s := range []FeedState{FeedActive, FeedEphemeral, FeedPruned} {
		got, err := ParseFeedState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseFeedState("paused")
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestFeedState_Schedulable(t *testing.T) {
	assert.True(t, FeedActive.Schedulable())
	assert.True(t, FeedEphemeral.Schedulable())
	assert.False(t, FeedPruned.Schedulable())
}

func TestFeed_Validate(t *testing.T) {
	f := &Feed{URL: "https://93.184.215.14/feed.xml", Tags: []string{"Go", " go", "DB"}}
	require.NoError(t, f.Validate())
	assert.Equal(t, []string{"db", "go"}, f.Tags)

	bad := &Feed{URL: "https://93.184.215.14/feed.xml", EstimatedInterval: -time.Minute}
	assert.Error(t, bad.Validate())
}

func TestInteraction_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		in      Interaction
		wantErr bool
	}{
		{name: "like", in: Interaction{EntryID: 1, Kind: Like, At: now}},
		{name: "dislike", in: Interaction{EntryID: 1, Kind: Dislike, At: now}},
		{name: "unknown kind", in: Interaction{EntryID: 1, Kind: 9, At: now}, wantErr: true},
		{name: "no entry", in: Interaction{Kind: Like, At: now}, wantErr: true},
		{name: "no timestamp", in: Interaction{EntryID: 1, Kind: Like}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidData)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseInteractionKind(t *testing.T) {
	k, err := ParseInteractionKind(" LIKE ")
	require.NoError(t, err)
	assert.Equal(t, Like, k)
	assert.Equal(t, 1.0, k.Sign())

	k, err = ParseInteractionKind("dislike")
	require.NoError(t, err)
	assert.Equal(t, -1.0, k.Sign())

	_, err = ParseInteractionKind("meh")
	assert.Error(t, err)
}

func TestFetchableItem_TypeSwitch(t *testing.T) {
	items := []FetchableItem{
		FeedTarget{FeedID: 12, FetchMeta: FetchMeta{Priority: 2}},
		EntryTarget{EntryID: 55, FeedID: 12, FetchMeta: FetchMeta{Priority: 1}},
	}

	var keys []string
	for _, it := range items {
		switch v := it.(type) {
		case FeedTarget:
			keys = append(keys, v.Key())
		case EntryTarget:
			keys = append(keys, v.Key())
		}
	}
	assert.Equal(t, []string{"feed:12", "entry:55"}, keys)
	assert.Equal(t, 2.0, items[0].Meta().Priority)
}
