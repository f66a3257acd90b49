package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/form-review-api/internal/models"
	"github.com/noah-isme/form-review-api/pkg/formdiff"
)

// Page bounds for change-log listing.
const (
	DefaultChangeLogPageSize = 20
	MaxChangeLogPageSize     = 100
)

type changeLogRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Form      string    `db:"form"`
	FormID    string    `db:"form_id"`
	Action    string    `db:"action"`
	Changes   []byte    `db:"changes"`
	CreatedAt time.Time `db:"created_at"`
}

func (r changeLogRow) toEntry() (models.ChangeLogEntry, error) {
	entry := models.ChangeLogEntry{
		ID:        r.ID,
		UserID:    r.UserID,
		Form:      models.FormKind(r.Form),
		FormID:    r.FormID,
		Action:    models.ChangeAction(r.Action),
		Changes:   []formdiff.Change{},
		Timestamp: r.CreatedAt,
	}
	if len(r.Changes) > 0 {
		if err := json.Unmarshal(r.Changes, &entry.Changes); err != nil {
			return entry, fmt.Errorf("decode changes of entry %s: %w", r.ID, err)
		}
	}
	return entry, nil
}

// ChangeLogRepository appends and queries change_logs. Rows are never updated.
type ChangeLogRepository struct {
	db *sqlx.DB
}

// NewChangeLogRepository constructs the repository.
func NewChangeLogRepository(db *sqlx.DB) *ChangeLogRepository {
	return &ChangeLogRepository{db: db}
}

// Create inserts one entry. Re-inserting an existing id is a no-op so outbox
// replays stay idempotent.
func (r *ChangeLogRepository) Create(ctx context.Context, entry *models.ChangeLogEntry) error {
	changes := entry.Changes
	if changes == nil {
		changes = []formdiff.Change{}
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	row := changeLogRow{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Form:      string(entry.Form),
		FormID:    entry.FormID,
		Action:    string(entry.Action),
		Changes:   payload,
		CreatedAt: entry.Timestamp,
	}
	const query = `INSERT INTO change_logs (id, user_id, form, form_id, action, changes, created_at)
	VALUES (:id, :user_id, :form, :form_id, :action, :changes, :created_at)
	ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create change log: %w", err)
	}
	return nil
}

// List returns entries matching filter in creation order.
func (r *ChangeLogRepository) List(ctx context.Context, filter models.ChangeLogFilter) ([]models.ChangeLogEntry, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("form_id", filter.FormID)
	add("user_id", filter.UserID)
	add("action", string(filter.Action))
	add("form", string(filter.Form))

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, form, form_id, action, changes, created_at FROM change_logs`)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultChangeLogPageSize
	}
	if limit > MaxChangeLogPageSize {
		limit = MaxChangeLogPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	sb.WriteString(" ORDER BY created_at ASC, seq ASC")
	sb.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var rows []changeLogRow
	if err := r.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("list change logs: %w", err)
	}
	entries := make([]models.ChangeLogEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
