package devhost

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// InstanceRecord is the persisted state of one module instance.
type InstanceRecord struct {
	ID               string
	Label            string
	Config           map[string]any
	LastUpgradeIndex int
	UpdatedAt        time.Time
}

// Store persists what a host keeps for its module instances.
//
// Thread Safety:
//   - All methods are safe for concurrent use; SQLite serialises writes.
type Store struct {
	db *database.DB
}

// NewStore wraps a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// EnsureInstance creates the instance row if it does not exist yet. An
// existing row keeps its label and config.
func (s *Store) EnsureInstance(ctx context.Context, id, label string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, label, config, last_upgrade_index, created_at, updated_at)
		VALUES (?, ?, '{}', 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, label, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("creating instance %s: %w", id, err)
	}
	return nil
}

// Instance loads an instance row.
func (s *Store) Instance(ctx context.Context, id string) (InstanceRecord, error) {
	var (
		rec       InstanceRecord
		config    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, label, config, last_upgrade_index, updated_at FROM instances WHERE id = ?", id,
	).Scan(&rec.ID, &rec.Label, &config, &rec.LastUpgradeIndex, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return InstanceRecord{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if err != nil {
		return InstanceRecord{}, fmt.Errorf("loading instance %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(config), &rec.Config); err != nil {
		return InstanceRecord{}, fmt.Errorf("decoding config of %s: %w", id, err)
	}
	if rec.Config == nil {
		rec.Config = map[string]any{}
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Written by this package
	return rec, nil
}

// SaveConfig replaces an instance's config.
func (s *Store) SaveConfig(ctx context.Context, id string, config map[string]any) error {
	return saveConfig(ctx, s.db, id, config)
}

func saveConfig(ctx context.Context, db execer, id string, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}
	body, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding config of %s: %w", id, err)
	}
	return updateInstance(ctx, db, id, "config = ?", string(body))
}

// SetLabel renames an instance.
func (s *Store) SetLabel(ctx context.Context, id, label string) error {
	return updateInstance(ctx, s.db, id, "label = ?", label)
}

// SetUpgradeIndex records how many upgrade scripts have been applied.
func (s *Store) SetUpgradeIndex(ctx context.Context, id string, index int) error {
	return updateInstance(ctx, s.db, id, "last_upgrade_index = ?", index)
}

func updateInstance(ctx context.Context, db execer, id, set string, value any) error {
	res, err := db.ExecContext(ctx,
		"UPDATE instances SET "+set+", updated_at = ? WHERE id = ?", value, now(), id)
	if err != nil {
		return fmt.Errorf("updating instance %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return nil
}

// itemTable describes one of the two instance tables.
type itemTable struct {
	name      string
	defColumn string
	notFound  error
}

var (
	actionTable   = itemTable{name: "action_instances", defColumn: "action_id", notFound: ErrActionNotFound}
	feedbackTable = itemTable{name: "feedback_instances", defColumn: "feedback_id", notFound: ErrFeedbackNotFound}
)

func (t itemTable) put(ctx context.Context, db execer, instanceID, id, defID, controlID string, item any) error {
	if id == "" || defID == "" {
		return fmt.Errorf("%w: id and definition id are required", ErrInvalidItem)
	}
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", t.name, id, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+t.name+` (id, instance_id, `+t.defColumn+`, control_id, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, id) DO UPDATE SET
			`+t.defColumn+` = excluded.`+t.defColumn+`,
			control_id = excluded.control_id,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		id, instanceID, defID, controlID, string(body), now(),
	)
	if err != nil {
		return fmt.Errorf("storing %s %s: %w", t.name, id, err)
	}
	return nil
}

func (t itemTable) delete(ctx context.Context, db execer, instanceID, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE instance_id = ? AND id = ?", instanceID, id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", t.name, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return fmt.Errorf("%w: %s", t.notFound, id)
	}
	return nil
}

func (t itemTable) bodies(ctx context.Context, db *database.DB, instanceID string) (map[string][]byte, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, body FROM "+t.name+" WHERE instance_id = ?", instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.name, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", t.name, err)
		}
		out[id] = []byte(body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", t.name, err)
	}
	return out, nil
}

func (t itemTable) body(ctx context.Context, db *database.DB, instanceID, id string) ([]byte, error) {
	var body string
	err := db.QueryRowContext(ctx,
		"SELECT body FROM "+t.name+" WHERE instance_id = ? AND id = ?", instanceID, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", t.notFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", t.name, id, err)
	}
	return []byte(body), nil
}

// PutAction creates or replaces an action instance.
func (s *Store) PutAction(ctx context.Context, instanceID string, a protocol.ActionInstance) error {
	return actionTable.put(ctx, s.db, instanceID, a.ID, a.ActionID, a.ControlID, a)
}

// DeleteAction removes an action instance.
func (s *Store) DeleteAction(ctx context.Context, instanceID, id string) error {
	return actionTable.delete(ctx, s.db, instanceID, id)
}

// Action loads one action instance.
func (s *Store) Action(ctx context.Context, instanceID, id string) (protocol.ActionInstance, error) {
	var a protocol.ActionInstance
	body, err := actionTable.body(ctx, s.db, instanceID, id)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(body, &a); err != nil {
		return a, fmt.Errorf("decoding action %s: %w", id, err)
	}
	return a, nil
}

// Actions loads every action instance of an instance, keyed by id.
func (s *Store) Actions(ctx context.Context, instanceID string) (map[string]protocol.ActionInstance, error) {
	bodies, err := actionTable.bodies(ctx, s.db, instanceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]protocol.ActionInstance, len(bodies))
	for id, body := range bodies {
		var a protocol.ActionInstance
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, fmt.Errorf("decoding action %s: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

// PutFeedback creates or replaces a feedback instance.
func (s *Store) PutFeedback(ctx context.Context, instanceID string, f protocol.FeedbackInstance) error {
	return feedbackTable.put(ctx, s.db, instanceID, f.ID, f.FeedbackID, f.ControlID, f)
}

// DeleteFeedback removes a feedback instance.
func (s *Store) DeleteFeedback(ctx context.Context, instanceID, id string) error {
	return feedbackTable.delete(ctx, s.db, instanceID, id)
}

// Feedback loads one feedback instance.
func (s *Store) Feedback(ctx context.Context, instanceID, id string) (protocol.FeedbackInstance, error) {
	var f protocol.FeedbackInstance
	body, err := feedbackTable.body(ctx, s.db, instanceID, id)
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(body, &f); err != nil {
		return f, fmt.Errorf("decoding feedback %s: %w", id, err)
	}
	return f, nil
}

// Feedbacks loads every feedback instance of an instance, keyed by id.
func (s *Store) Feedbacks(ctx context.Context, instanceID string) (map[string]protocol.FeedbackInstance, error) {
	bodies, err := feedbackTable.bodies(ctx, s.db, instanceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]protocol.FeedbackInstance, len(bodies))
	for id, body := range bodies {
		var f protocol.FeedbackInstance
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("decoding feedback %s: %w", id, err)
		}
		out[id] = f
	}
	return out, nil
}

// ApplyUpgradedItems persists the result of upgrade scripts in one
// transaction, so a crash cannot leave half an upgrade behind. A non-zero
// NewUpgradeIndex is recorded in the same transaction; the stored index
// never moves backwards.
func (s *Store) ApplyUpgradedItems(ctx context.Context, instanceID string, msg protocol.UpgradedItemsMessage) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if msg.NewUpgradeIndex > 0 {
			if err := updateInstance(ctx, tx, instanceID,
				"last_upgrade_index = MAX(last_upgrade_index, ?)", msg.NewUpgradeIndex); err != nil {
				return err
			}
		}
		if msg.UpdatedConfig != nil {
			if err := saveConfig(ctx, tx, instanceID, msg.UpdatedConfig); err != nil {
				return err
			}
		}
		for id, a := range msg.UpdatedActions {
			a.ID = id
			a.UpgradeIndex = nil
			if err := actionTable.put(ctx, tx, instanceID, id, a.ActionID, a.ControlID, a); err != nil {
				return err
			}
		}
		for id, f := range msg.UpdatedFeedbacks {
			f.ID = id
			f.UpgradeIndex = nil
			if err := feedbackTable.put(ctx, tx, instanceID, id, f.FeedbackID, f.ControlID, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetVariableDefinitions records the published variable names and drops
// rows for variables that are no longer defined. Values of variables that
// stay defined are kept.
func (s *Store) SetVariableDefinitions(ctx context.Context, instanceID string, defs []protocol.VariableDefinition) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		keep := make(map[string]bool, len(defs))
		for _, d := range defs {
			keep[d.ID] = true
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO variable_values (instance_id, variable_id, name, value, updated_at)
				VALUES (?, ?, ?, NULL, ?)
				ON CONFLICT(instance_id, variable_id) DO UPDATE SET name = excluded.name`,
				instanceID, d.ID, d.Name, now(),
			); err != nil {
				return fmt.Errorf("defining variable %s: %w", d.ID, err)
			}
		}

		rows, err := tx.QueryContext(ctx, "SELECT variable_id FROM variable_values WHERE instance_id = ?", instanceID)
		if err != nil {
			return fmt.Errorf("querying variables: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning variable: %w", err)
			}
			if !keep[id] {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating variables: %w", err)
		}

		for _, id := range stale {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM variable_values WHERE instance_id = ? AND variable_id = ?", instanceID, id,
			); err != nil {
				return fmt.Errorf("dropping variable %s: %w", id, err)
			}
		}
		return nil
	})
}

// SetVariableValues stores a value batch. A nil value clears the variable.
// Values for variables that were never defined are stored too; the module
// is the authority on what it publishes.
func (s *Store) SetVariableValues(ctx context.Context, instanceID string, values []protocol.VariableValue) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, v := range values {
			var encoded any
			if v.Value != nil {
				b, err := json.Marshal(v.Value)
				if err != nil {
					return fmt.Errorf("encoding variable %s: %w", v.ID, err)
				}
				encoded = string(b)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO variable_values (instance_id, variable_id, value, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(instance_id, variable_id) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				instanceID, v.ID, encoded, now(),
			); err != nil {
				return fmt.Errorf("storing variable %s: %w", v.ID, err)
			}
		}
		return nil
	})
}

// VariableValues returns the variables that currently hold a value.
func (s *Store) VariableValues(ctx context.Context, instanceID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT variable_id, value FROM variable_values WHERE instance_id = ? AND value IS NOT NULL", instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning variable: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding variable %s: %w", id, err)
		}
		out[id] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variables: %w", err)
	}
	return out, nil
}
