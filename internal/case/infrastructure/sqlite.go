package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// SQLiteRepository implements domain.Repository on SQLite, for single-node
// deployments, local development and tests.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ domain.Repository = (*SQLiteRepository)(nil)

// Create allocates the case number and inserts the case.
func (r *SQLiteRepository) Create(ctx context.Context, c *domain.Case) error {
	for attempt := 1; ; attempt++ {
		err := r.insert(ctx, c)
		if err == nil {
			return nil
		}
		if !isSQLiteNumberingConflict(err) {
			return err
		}
		if attempt == domain.MaxNumberingAttempts {
			return errors.Conflict("could not allocate a case number, please retry").WithCode("CASE_NUMBER_CONFLICT")
		}
		metrics.RecordCaseNumberRetry()
	}
}

func isSQLiteNumberingConflict(err error) bool {
	return database.IsSQLiteUniqueViolation(err, "cases.user_id, cases.sequence_number") ||
		database.IsSQLiteUniqueViolation(err, "cases.case_number")
}

func (r *SQLiteRepository) insert(ctx context.Context, c *domain.Case) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var customerNumber string
	err = tx.QueryRowContext(ctx,
		`SELECT customer_number FROM clients WHERE user_id = ?`, c.UserID.String(),
	).Scan(&customerNumber)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("client", c.UserID.String())
	}
	if err != nil {
		return errors.Wrap(err, "failed to load client")
	}

	var sequence int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM cases WHERE user_id = ?`, c.UserID.String(),
	).Scan(&sequence)
	if err != nil {
		return errors.Wrap(err, "failed to allocate sequence number")
	}

	selections, err := encodeSelections(c.ClassSelections)
	if err != nil {
		return errors.Wrap(err, "failed to marshal class selections")
	}
	classes, err := json.Marshal(classesOrEmpty(c.Classes))
	if err != nil {
		return errors.Wrap(err, "failed to marshal classes")
	}

	caseNumber := domain.FormatCaseNumber(customerNumber, sequence)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), caseNumber, sequence, c.UserID.String(), c.Title, string(c.TrademarkType), c.Applicant,
		string(classes), database.NullJSON(c.TrademarkDetails), selections,
		database.NullString(c.ClassCategory), database.NullString(c.ProductService),
		database.NullJSON(c.ClientIntake), database.NullString(string(c.ConsultationRoute)),
		database.BoolInt(c.ConsultationStarted), string(c.Status), database.NullString(c.Notes),
		database.NullID(c.AssignedAttorneyID), database.NullID(c.AssignedInternalStaffID),
		database.ToNanos(c.CreatedAt), database.ToNanos(c.UpdatedAt), database.NullNanos(c.DeletedAt),
	)
	if err != nil {
		if isSQLiteNumberingConflict(err) {
			return err
		}
		return errors.Wrap(err, "failed to save case")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	c.SequenceNumber = sequence
	c.CaseNumber = caseNumber
	return nil
}

// FindByID finds a case by ID
func (r *SQLiteRepository) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = ? AND deleted_at IS NULL`, id.String(),
	)

	c, err := scanSQLiteCase(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}
	return c, nil
}

// Update writes the mutable fields of a case.
func (r *SQLiteRepository) Update(ctx context.Context, c *domain.Case) error {
	selections, err := encodeSelections(c.ClassSelections)
	if err != nil {
		return errors.Wrap(err, "failed to marshal class selections")
	}
	classes, err := json.Marshal(classesOrEmpty(c.Classes))
	if err != nil {
		return errors.Wrap(err, "failed to marshal classes")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE cases SET
			title = ?, applicant = ?, classes = ?, trademark_details = ?,
			class_selections = ?, class_category = ?, product_service = ?,
			client_intake = ?, consultation_route = ?, consultation_started = ?,
			status = ?, notes = ?, assigned_attorney_id = ?,
			assigned_internal_staff_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		c.Title, c.Applicant, string(classes), database.NullJSON(c.TrademarkDetails),
		selections, database.NullString(c.ClassCategory), database.NullString(c.ProductService),
		database.NullJSON(c.ClientIntake), database.NullString(string(c.ConsultationRoute)),
		database.BoolInt(c.ConsultationStarted), string(c.Status), database.NullString(c.Notes),
		database.NullID(c.AssignedAttorneyID), database.NullID(c.AssignedInternalStaffID),
		database.ToNanos(c.UpdatedAt), c.ID.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update case")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("case", c.ID.String())
	}
	return nil
}

// SoftDelete marks a case deleted; it disappears from every listing.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, id types.ID, at time.Time) error {
	nanos := database.ToNanos(at)
	result, err := r.db.ExecContext(ctx,
		`UPDATE cases SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		nanos, nanos, id.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete case")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("case", id.String())
	}
	return nil
}

// List returns the matching cases and their count.
func (r *SQLiteRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	where, args, orderBy := buildListQuery(sqliteDialect{}, filter)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM cases %s %s`, caseColumns, where, orderBy), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	cases := []domain.Case{}
	for rows.Next() {
		c, err := scanSQLiteCase(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan case")
		}
		cases = append(cases, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}

	return cases, len(cases), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCase(row scanner) (*domain.Case, error) {
	var (
		c                                    domain.Case
		id, userID, tmType, status, classes  string
		trademarkDetails, selections, intake sql.NullString
		category, product, route, notes      sql.NullString
		attorneyID, staffID                  sql.NullString
		started                              int
		createdAt, updatedAt                 int64
		deletedAt                            sql.NullInt64
	)

	err := row.Scan(
		&id, &c.CaseNumber, &c.SequenceNumber, &userID, &c.Title, &tmType, &c.Applicant,
		&classes, &trademarkDetails, &selections, &category, &product,
		&intake, &route, &started, &status, &notes,
		&attorneyID, &staffID, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID = types.ID(id)
	c.UserID = types.ID(userID)
	c.TrademarkType = domain.TrademarkType(tmType)
	c.Status = domain.Status(status)
	c.ConsultationStarted = started != 0
	c.TrademarkDetails = rawJSON([]byte(trademarkDetails.String))
	c.ClientIntake = rawJSON([]byte(intake.String))
	c.ClassCategory = category.String
	c.ProductService = product.String
	c.ConsultationRoute = domain.ConsultationRoute(route.String)
	c.Notes = notes.String
	c.AssignedAttorneyID = types.ID(attorneyID.String)
	c.AssignedInternalStaffID = types.ID(staffID.String)
	c.CreatedAt = database.FromNanos(createdAt)
	c.UpdatedAt = database.FromNanos(updatedAt)
	c.DeletedAt = database.FromNullNanos(deletedAt)

	if err := json.Unmarshal([]byte(classes), &c.Classes); err != nil {
		return nil, fmt.Errorf("decode classes: %w", err)
	}
	if c.ClassSelections, err = decodeSelections([]byte(selections.String)); err != nil {
		return nil, fmt.Errorf("decode class selections: %w", err)
	}
	return &c, nil
}
