// Package model defines the transient value types shared by the widgets.
// Every type here is recomputed on each refresh run and never mutated after
// creation.
package model

import "time"

// Event is a single normalized calendar occurrence inside the expansion
// window. For recurring series one Event is emitted per occurrence; ID is
// unique within a normalization run.
type Event struct {
	// ID is derived from the feed ID, the event UID and, for recurring
	// instances, the occurrence start timestamp.
	ID string `json:"id"`

	// FeedID is the stable identifier of the feed this event came from.
	// Events join back to their feed configuration through this, never
	// through label or color.
	FeedID string `json:"feedId"`

	Title string `json:"title"`

	// Start and End are absolute instants in the display timezone.
	// Start <= End always holds.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	AllDay bool `json:"allDay"`

	// SourceLabel is the display name of the feed: the user-supplied label
	// when present, otherwise derived from the event organizer.
	SourceLabel string `json:"sourceLabel"`

	// Color is the per-feed display color (hex), shared by all events of
	// the feed.
	Color string `json:"color"`
}

// WeatherReport is the merged output of the weather providers. UVIndex,
// Sunrise and Sunset come from optional providers and are omitted when the
// corresponding API key is not configured or the provider fails.
type WeatherReport struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feelsLike"`
	Humidity    int     `json:"humidity"`
	Condition   string  `json:"condition"`
	Icon        string  `json:"icon"`

	UVIndex *float64   `json:"uvIndex,omitempty"`
	Sunrise *time.Time `json:"sunrise,omitempty"`
	Sunset  *time.Time `json:"sunset,omitempty"`

	FetchedAt time.Time `json:"fetchedAt"`
}

// Quote is the price of a single symbol. Price is nil when the provider has
// no price data for the symbol; that is not an error condition.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     *float64  `json:"price"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Holding is one position of the asset widget, as stored in settings.
type Holding struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"costBasis"`
}

// HoldingValue is a Holding joined with its current quote. Err carries the
// per-symbol fetch failure so one bad symbol does not hide the others.
type HoldingValue struct {
	Holding
	Price *float64 `json:"price"`
	Value *float64 `json:"value"`
	Err   string   `json:"error,omitempty"`
}

// Article is one normalized RSS/Atom entry.
type Article struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Category  string    `json:"category,omitempty"`
	Published time.Time `json:"published"`
}

// NewsFeed is the normalized form of one RSS/Atom document.
type NewsFeed struct {
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Articles []Article `json:"articles"`
}

// TaskList mirrors a task-provider list.
type TaskList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Task mirrors a task-provider task. Due is nil for tasks without a due date.
type Task struct {
	ID        string     `json:"id"`
	ListID    string     `json:"listId"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Due       *time.Time `json:"due,omitempty"`
	Completed bool       `json:"completed"`
	Updated   time.Time  `json:"updated"`
}
