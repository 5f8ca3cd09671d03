// Package settings persists all user-editable dashboard state in a single
// versioned document inside a local bbolt file. Writes replace the whole
// document; there are no partial updates.
package settings

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/oauth2"

	"lifeos/internal/model"
)

const (
	schemaVersion = 3

	rootBucket  = "lifeos"
	settingsKey = "settings"
)

// CalendarFeed is one configured ICS subscription. The ID is the stable join
// key between stored configuration and normalized events.
type CalendarFeed struct {
	ID    uuid.UUID `json:"id"`
	URL   string    `json:"url"`
	Label string    `json:"label,omitempty"`
	Color string    `json:"color,omitempty"`
}

// TaskPrefs holds display preferences for the tasks widget.
type TaskPrefs struct {
	ListID        string `json:"listId,omitempty"`
	ShowCompleted bool   `json:"showCompleted"`
	Color         string `json:"color,omitempty"`
}

// Settings is the full persisted document.
type Settings struct {
	Version       int             `json:"version"`
	CalendarFeeds []CalendarFeed  `json:"calendarFeeds"`
	NewsFeeds     []string        `json:"newsFeeds"`
	Holdings      []model.Holding `json:"holdings"`
	AccentColor   string          `json:"accentColor,omitempty"`
	Tasks         TaskPrefs       `json:"tasks"`
	TaskToken     *oauth2.Token   `json:"taskToken,omitempty"`
}

// Defaults returns the settings for a fresh installation.
func Defaults() Settings {
	return Settings{
		Version:       schemaVersion,
		CalendarFeeds: []CalendarFeed{},
		NewsFeeds:     []string{},
		Holdings:      []model.Holding{},
	}
}

// Store is a handle on the settings database. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the settings database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open settings db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %s: %w", rootBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the current settings document, migrating older schema versions in
// place. A missing document yields Defaults.
func (s *Store) Load() (Settings, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if b == nil {
			return fmt.Errorf("invalid bucket %s", rootBucket)
		}
		if v := b.Get([]byte(settingsKey)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	if raw == nil {
		return Defaults(), nil
	}

	doc, migrated, err := migrate(raw)
	if err != nil {
		return Settings{}, err
	}
	if migrated {
		if err := s.Save(doc); err != nil {
			return Settings{}, fmt.Errorf("persisting migrated settings: %w", err)
		}
	}
	return doc, nil
}

// Save replaces the stored document. The schema version is stamped and any
// calendar feed without an ID gets one assigned.
func (s *Store) Save(doc Settings) error {
	doc.Version = schemaVersion
	for i := range doc.CalendarFeeds {
		if doc.CalendarFeeds[i].ID == uuid.Nil {
			doc.CalendarFeeds[i].ID = uuid.New()
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("could not marshal settings: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if b == nil {
			return fmt.Errorf("invalid bucket %s", rootBucket)
		}
		return b.Put([]byte(settingsKey), raw)
	})
}

// migrate upgrades a raw stored document to the current schema. The second
// return value reports whether any migration step ran.
func migrate(raw []byte) (Settings, bool, error) {
	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return Settings{}, false, fmt.Errorf("could not read settings version: %w", err)
	}

	version := header.Version
	if version == 0 {
		version = 1
	}
	if version > schemaVersion {
		return Settings{}, false, fmt.Errorf("settings schema v%d is newer than supported v%d", version, schemaVersion)
	}

	migrated := false
	var err error
	if version == 1 {
		raw, err = migrateV1(raw)
		if err != nil {
			return Settings{}, false, err
		}
		version = 2
		migrated = true
	}
	if version == 2 {
		raw, err = migrateV2(raw)
		if err != nil {
			return Settings{}, false, err
		}
		migrated = true
	}

	var doc Settings
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Settings{}, false, fmt.Errorf("could not unmarshal settings: %w", err)
	}
	doc.Version = schemaVersion
	if doc.CalendarFeeds == nil {
		doc.CalendarFeeds = []CalendarFeed{}
	}
	if doc.NewsFeeds == nil {
		doc.NewsFeeds = []string{}
	}
	if doc.Holdings == nil {
		doc.Holdings = []model.Holding{}
	}
	return doc, migrated, nil
}

// migrateV1 lifts v1 calendar feeds, stored as bare URL strings, into feed
// objects.
func migrateV1(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("settings migration v1: %w", err)
	}

	var urls []string
	if feeds, ok := doc["calendarFeeds"]; ok {
		if err := json.Unmarshal(feeds, &urls); err != nil {
			return nil, fmt.Errorf("settings migration v1: calendar feeds: %w", err)
		}
	}
	objects := make([]map[string]string, 0, len(urls))
	for _, u := range urls {
		objects = append(objects, map[string]string{"url": u})
	}

	lifted, err := json.Marshal(objects)
	if err != nil {
		return nil, err
	}
	doc["calendarFeeds"] = lifted
	doc["version"] = json.RawMessage("2")
	return json.Marshal(doc)
}

// migrateV2 assigns stable IDs to v2 calendar feeds, which carried label and
// color but no join key.
func migrateV2(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("settings migration v2: %w", err)
	}

	var feeds []map[string]any
	if v, ok := doc["calendarFeeds"]; ok {
		if err := json.Unmarshal(v, &feeds); err != nil {
			return nil, fmt.Errorf("settings migration v2: calendar feeds: %w", err)
		}
	}
	for i := range feeds {
		if _, ok := feeds[i]["id"]; !ok {
			feeds[i]["id"] = uuid.New().String()
		}
	}

	stamped, err := json.Marshal(feeds)
	if err != nil {
		return nil, err
	}
	doc["calendarFeeds"] = stamped
	doc["version"] = json.RawMessage("3")
	return json.Marshal(doc)
}
