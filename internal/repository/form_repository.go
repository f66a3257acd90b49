package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/form-review-api/internal/models"
)

// ErrVersionConflict reports that the stored form changed since it was read.
var ErrVersionConflict = errors.New("form version conflict")

const formColumns = `id, kind, applicant_id, status, claimed_by_id, updated_by_id, last_update,
       status_reason, notes, payload, version, created_at`

// formRow is the column layout of the forms table; notes and the variant
// payload are stored as JSONB.
type formRow struct {
	ID           string         `db:"id"`
	Kind         string         `db:"kind"`
	ApplicantID  string         `db:"applicant_id"`
	Status       int            `db:"status"`
	ClaimedByID  sql.NullString `db:"claimed_by_id"`
	UpdatedByID  string         `db:"updated_by_id"`
	LastUpdate   time.Time      `db:"last_update"`
	StatusReason string         `db:"status_reason"`
	Notes        []byte         `db:"notes"`
	Payload      []byte         `db:"payload"`
	Version      int64          `db:"version"`
	CreatedAt    time.Time      `db:"created_at"`
}

func toFormRow(form *models.Form) (*formRow, error) {
	notes := form.Notes
	if notes == nil {
		notes = []models.Note{}
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return nil, fmt.Errorf("encode notes: %w", err)
	}
	var payload interface{}
	switch form.Kind {
	case models.FormKindApplication:
		payload = form.ApplicationData
	case models.FormKindInterview:
		payload = form.InterviewData
	default:
		return nil, fmt.Errorf("unknown form kind %q", form.Kind)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	row := &formRow{
		ID:           form.ID,
		Kind:         string(form.Kind),
		ApplicantID:  form.ApplicantID,
		Status:       int(form.Status),
		UpdatedByID:  form.UpdatedByID,
		LastUpdate:   form.LastUpdate,
		StatusReason: form.StatusReason,
		Notes:        notesJSON,
		Payload:      payloadJSON,
		Version:      form.Version,
		CreatedAt:    form.CreatedAt,
	}
	if form.ClaimedByID != nil {
		row.ClaimedByID = sql.NullString{String: *form.ClaimedByID, Valid: true}
	}
	return row, nil
}

func (r *formRow) toForm() (*models.Form, error) {
	form := &models.Form{
		ID:           r.ID,
		Kind:         models.FormKind(r.Kind),
		ApplicantID:  r.ApplicantID,
		Status:       models.FormStatus(r.Status),
		UpdatedByID:  r.UpdatedByID,
		LastUpdate:   r.LastUpdate,
		StatusReason: r.StatusReason,
		Notes:        []models.Note{},
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
	}
	if r.ClaimedByID.Valid {
		claimed := r.ClaimedByID.String
		form.ClaimedByID = &claimed
	}
	if len(r.Notes) > 0 {
		if err := json.Unmarshal(r.Notes, &form.Notes); err != nil {
			return nil, fmt.Errorf("decode notes of form %s: %w", r.ID, err)
		}
	}
	switch form.Kind {
	case models.FormKindApplication:
		form.ApplicationData = &models.ApplicationData{}
		if err := decodePayload(r.Payload, form.ApplicationData); err != nil {
			return nil, fmt.Errorf("decode application %s: %w", r.ID, err)
		}
	case models.FormKindInterview:
		form.InterviewData = &models.InterviewData{}
		if err := decodePayload(r.Payload, form.InterviewData); err != nil {
			return nil, fmt.Errorf("decode interview %s: %w", r.ID, err)
		}
	default:
		return nil, fmt.Errorf("form %s has unknown kind %q", r.ID, r.Kind)
	}
	return form, nil
}

func decodePayload(raw []byte, dest interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// FormRepository persists applications and interviews in the forms table.
type FormRepository struct {
	db *sqlx.DB
}

// NewFormRepository constructs the repository.
func NewFormRepository(db *sqlx.DB) *FormRepository {
	return &FormRepository{db: db}
}

// Create inserts a new form at version 1.
func (r *FormRepository) Create(ctx context.Context, form *models.Form) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	if form.LastUpdate.IsZero() {
		form.LastUpdate = form.CreatedAt
	}
	form.Version = 1
	row, err := toFormRow(form)
	if err != nil {
		return err
	}
	const query = `INSERT INTO forms
	(id, kind, applicant_id, status, claimed_by_id, updated_by_id, last_update, status_reason, notes, payload, version, created_at)
	VALUES (:id, :kind, :applicant_id, :status, :claimed_by_id, :updated_by_id, :last_update, :status_reason, :notes, :payload, :version, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	return nil
}

// Get fetches a form of the given kind. It returns sql.ErrNoRows when absent.
func (r *FormRepository) Get(ctx context.Context, kind models.FormKind, id string) (*models.Form, error) {
	query := `SELECT ` + formColumns + ` FROM forms WHERE kind = $1 AND id = $2`
	var row formRow
	if err := r.db.GetContext(ctx, &row, query, string(kind), id); err != nil {
		return nil, err
	}
	return row.toForm()
}

// Update writes the mutable columns of form if the stored version still equals
// expectedVersion, then bumps form.Version. A stale version yields
// ErrVersionConflict; a vanished row yields sql.ErrNoRows.
func (r *FormRepository) Update(ctx context.Context, form *models.Form, expectedVersion int64) error {
	row, err := toFormRow(form)
	if err != nil {
		return err
	}
	row.Version = expectedVersion + 1
	const query = `UPDATE forms SET status = :status, claimed_by_id = :claimed_by_id, updated_by_id = :updated_by_id,
	last_update = :last_update, status_reason = :status_reason, notes = :notes, payload = :payload, version = :version
	WHERE id = :id AND kind = :kind AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"status":           row.Status,
		"claimed_by_id":    row.ClaimedByID,
		"updated_by_id":    row.UpdatedByID,
		"last_update":      row.LastUpdate,
		"status_reason":    row.StatusReason,
		"notes":            row.Notes,
		"payload":          row.Payload,
		"version":          row.Version,
		"id":               row.ID,
		"kind":             row.Kind,
		"expected_version": expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check form update rows: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM forms WHERE id = $1 AND kind = $2)`, row.ID, row.Kind); err != nil {
			return fmt.Errorf("check form existence: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrVersionConflict
	}
	form.Version = row.Version
	return nil
}

// Delete removes a form. It returns sql.ErrNoRows when nothing was deleted.
func (r *FormRepository) Delete(ctx context.Context, kind models.FormKind, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM forms WHERE kind = $1 AND id = $2`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check form delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns forms matching the filter and the total count before paging.
func (r *FormRepository) List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error) {
	conditions := []string{"kind = $1"}
	args := []interface{}{string(filter.Kind)}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, int(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ApplicantID != "" {
		args = append(args, filter.ApplicantID)
		conditions = append(conditions, fmt.Sprintf("applicant_id = $%d", len(args)))
	}
	if filter.ClaimedByID != "" {
		args = append(args, filter.ClaimedByID)
		conditions = append(conditions, fmt.Sprintf("claimed_by_id = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM forms"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	order := " ORDER BY created_at DESC, id ASC"
	switch strings.ToLower(filter.SortStatus) {
	case "asc":
		order = " ORDER BY status ASC, id ASC"
	case "desc":
		order = " ORDER BY status DESC, id ASC"
	}

	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT ` + formColumns + ` FROM forms` + where + order +
		fmt.Sprintf(" LIMIT %d OFFSET %d", size, (page-1)*size)
	var rows []formRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}
	forms := make([]models.Form, 0, len(rows))
	for i := range rows {
		form, err := rows[i].toForm()
		if err != nil {
			return nil, 0, err
		}
		forms = append(forms, *form)
	}
	return forms, total, nil
}
