package infrastructure

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ domain.Repository = (*PostgresRepository)(nil)

// Create allocates the case number and inserts the case.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Case) error {
	for attempt := 1; ; attempt++ {
		err := r.insert(ctx, c)
		if err == nil {
			return nil
		}
		if !isNumberingConflict(err) {
			return err
		}
		if attempt == domain.MaxNumberingAttempts {
			return errors.Conflict("could not allocate a case number, please retry").WithCode("CASE_NUMBER_CONFLICT")
		}
		metrics.RecordCaseNumberRetry()
	}
}

func isNumberingConflict(err error) bool {
	return database.IsUniqueViolation(err, "cases_user_sequence_key") ||
		database.IsUniqueViolation(err, "cases_case_number_key")
}

func (r *PostgresRepository) insert(ctx context.Context, c *domain.Case) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	// Locking the client row serialises allocation per client; the unique
	// constraint still backs it up.
	var customerNumber string
	err = tx.QueryRow(ctx,
		`SELECT customer_number FROM clients WHERE user_id = $1 FOR UPDATE`,
		c.UserID.String(),
	).Scan(&customerNumber)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("client", c.UserID.String())
	}
	if err != nil {
		return errors.Wrap(err, "failed to load client")
	}

	var sequence int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM cases WHERE user_id = $1`,
		c.UserID.String(),
	).Scan(&sequence)
	if err != nil {
		return errors.Wrap(err, "failed to allocate sequence number")
	}

	selections, err := encodeSelections(c.ClassSelections)
	if err != nil {
		return errors.Wrap(err, "failed to marshal class selections")
	}

	caseNumber := domain.FormatCaseNumber(customerNumber, sequence)
	_, err = tx.Exec(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		c.ID.String(), caseNumber, sequence, c.UserID.String(), c.Title, string(c.TrademarkType), c.Applicant,
		classesOrEmpty(c.Classes), database.NullJSON(c.TrademarkDetails), selections,
		database.NullString(c.ClassCategory), database.NullString(c.ProductService),
		database.NullJSON(c.ClientIntake), database.NullString(string(c.ConsultationRoute)),
		c.ConsultationStarted, string(c.Status), database.NullString(c.Notes),
		database.NullID(c.AssignedAttorneyID), database.NullID(c.AssignedInternalStaffID),
		c.CreatedAt, c.UpdatedAt, c.DeletedAt,
	)
	if err != nil {
		if isNumberingConflict(err) {
			return err
		}
		return errors.Wrap(err, "failed to save case")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	c.SequenceNumber = sequence
	c.CaseNumber = caseNumber
	return nil
}

// FindByID finds a case by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1 AND deleted_at IS NULL`,
		id.String(),
	)

	c, err := scanPostgresCase(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("case", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}
	return c, nil
}

// Update writes the mutable fields of a case.
func (r *PostgresRepository) Update(ctx context.Context, c *domain.Case) error {
	selections, err := encodeSelections(c.ClassSelections)
	if err != nil {
		return errors.Wrap(err, "failed to marshal class selections")
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE cases SET
			title = $2, applicant = $3, classes = $4, trademark_details = $5,
			class_selections = $6, class_category = $7, product_service = $8,
			client_intake = $9, consultation_route = $10, consultation_started = $11,
			status = $12, notes = $13, assigned_attorney_id = $14,
			assigned_internal_staff_id = $15, updated_at = $16
		WHERE id = $1 AND deleted_at IS NULL`,
		c.ID.String(), c.Title, c.Applicant, classesOrEmpty(c.Classes), database.NullJSON(c.TrademarkDetails),
		selections, database.NullString(c.ClassCategory), database.NullString(c.ProductService),
		database.NullJSON(c.ClientIntake), database.NullString(string(c.ConsultationRoute)), c.ConsultationStarted,
		string(c.Status), database.NullString(c.Notes), database.NullID(c.AssignedAttorneyID),
		database.NullID(c.AssignedInternalStaffID), c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update case")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("case", c.ID.String())
	}
	return nil
}

// SoftDelete marks a case deleted; it disappears from every listing.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id types.ID, at time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE cases SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id.String(), at,
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete case")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("case", id.String())
	}
	return nil
}

// List returns the matching cases and their count.
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	where, args, orderBy := buildListQuery(postgresDialect{}, filter)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM cases %s %s`, caseColumns, where, orderBy), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	cases := []domain.Case{}
	for rows.Next() {
		c, err := scanPostgresCase(rows)
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

func scanPostgresCase(row pgx.Row) (*domain.Case, error) {
	var (
		c                                    domain.Case
		id, userID, tmType, status           string
		trademarkDetails, selections, intake []byte
		category, product, route, notes      *string
		attorneyID, staffID                  *string
	)

	err := row.Scan(
		&id, &c.CaseNumber, &c.SequenceNumber, &userID, &c.Title, &tmType, &c.Applicant,
		&c.Classes, &trademarkDetails, &selections, &category, &product,
		&intake, &route, &c.ConsultationStarted, &status, &notes,
		&attorneyID, &staffID, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID = types.ID(id)
	c.UserID = types.ID(userID)
	c.TrademarkType = domain.TrademarkType(tmType)
	c.Status = domain.Status(status)
	c.TrademarkDetails = rawJSON(trademarkDetails)
	c.ClientIntake = rawJSON(intake)
	c.ClassCategory = database.StringValue(category)
	c.ProductService = database.StringValue(product)
	c.ConsultationRoute = domain.ConsultationRoute(database.StringValue(route))
	c.Notes = database.StringValue(notes)
	c.AssignedAttorneyID = types.ID(database.StringValue(attorneyID))
	c.AssignedInternalStaffID = types.ID(database.StringValue(staffID))
	if c.ClassSelections, err = decodeSelections(selections); err != nil {
		return nil, fmt.Errorf("decode class selections: %w", err)
	}
	return &c, nil
}

func classesOrEmpty(classes []string) []string {
	if classes == nil {
		return []string{}
	}
	return classes
}
