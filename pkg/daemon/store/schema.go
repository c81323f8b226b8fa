package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - last check and transfer journal
const CurrentSchemaVersion = 1

const schemaKey = "m:__schema__"

// ErrNewerSchema is returned when the database was written by a newer otahubd.
var ErrNewerSchema = errors.New("database schema is newer than this binary")

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the current schema version, or nil if not set.
func (s *Store) GetSchema() *Schema {
	var schema *Schema

	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})

	return schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// ensureSchema stamps a fresh database and refuses one from a newer release.
func (s *Store) ensureSchema() error {
	schema := s.GetSchema()
	switch {
	case schema == nil:
		if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
			return fmt.Errorf("writing schema: %w", err)
		}
	case schema.Version > CurrentSchemaVersion:
		return fmt.Errorf("%w: version %d, supported %d", ErrNewerSchema, schema.Version, CurrentSchemaVersion)
	}
	return nil
}
