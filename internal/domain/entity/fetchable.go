package entity

import (
	"fmt"
	"time"
)

// FetchableItem is the closed set of things the scheduler can ask the
// fetcher to retrieve. The unexported method seals the union to
// FeedTarget and EntryTarget; consumers dispatch with a type switch.
type FetchableItem interface {
	Key() string
	Meta() FetchMeta
	fetchable()
}

// FetchMeta is the bookkeeping shared by every fetchable item.
type FetchMeta struct {
	Priority      float64
	LastAttemptAt *time.Time
	Attempts      int
}

// FeedTarget asks for a feed to be polled.
type FeedTarget struct {
	FeedID int64
	URL    string
	FetchMeta
}

func (t FeedTarget) Key() string     { return FeedKey(t.FeedID) }
func (t FeedTarget) Meta() FetchMeta { return t.FetchMeta }
func (FeedTarget) fetchable()        {}

// EntryTarget asks for an entry's full content to be fetched.
type EntryTarget struct {
	EntryID int64
	FeedID  int64
	URL     string
	FetchMeta
}

func (t EntryTarget) Key() string     { return EntryKey(t.EntryID) }
func (t EntryTarget) Meta() FetchMeta { return t.FetchMeta }
func (EntryTarget) fetchable()        {}

func FeedKey(id int64) string  { return fmt.Sprintf("feed:%d", id) }
func EntryKey(id int64) string { return fmt.Sprintf("entry:%d", id) }
