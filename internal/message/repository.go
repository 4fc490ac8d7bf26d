package message

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// Store persists messages and read receipts.
type Store interface {
	Create(ctx context.Context, m *Message) error
	FindByID(ctx context.Context, id types.ID) (*Message, error)
	SetFlagged(ctx context.Context, id types.ID, flagged bool, at time.Time) error
	// ListForCase returns the case's messages newest first with viewer's
	// read receipts.
	ListForCase(ctx context.Context, caseID, viewer types.ID) ([]Entry, error)
	// ListForCases is ListForCase over several cases at once.
	ListForCases(ctx context.Context, caseIDs []types.ID, viewer types.ID) ([]Entry, error)
	// MarkRead records viewer's receipts for messageIDs, keeping existing
	// ones. It returns the number of receipts added.
	MarkRead(ctx context.Context, viewer types.ID, messageIDs []types.ID, at time.Time) (int, error)
}

const entryColumns = `m.id, m.case_id, m.sender_id, m.content, m.subject, m.is_flagged,
	m.attachments, m.created_at, m.updated_at, u.name, u.email, u.role, r.read_at`

// PostgresRepository is the PostgreSQL Store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new message repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Store = (*PostgresRepository)(nil)

// Create inserts a message
func (r *PostgresRepository) Create(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (
			id, case_id, sender_id, content, subject, is_flagged, attachments,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.CaseID, m.SenderID, m.Content, m.Subject, m.IsFlagged,
		database.NullJSON(m.Attachments), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save message")
	}
	return nil
}

// FindByID finds a message by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Message, error) {
	var (
		m           Message
		attachments []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, case_id, sender_id, content, subject, is_flagged, attachments,
			created_at, updated_at
		FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.CaseID, &m.SenderID, &m.Content, &m.Subject, &m.IsFlagged,
		&attachments, &m.CreatedAt, &m.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("message", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find message")
	}
	m.Attachments = rawJSON(attachments)
	return &m, nil
}

// SetFlagged updates the flag of a message
func (r *PostgresRepository) SetFlagged(ctx context.Context, id types.ID, flagged bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_flagged = $2, updated_at = $3 WHERE id = $1`,
		id, flagged, at,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update message")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("message", id.String())
	}
	return nil
}

// ListForCase lists a case's messages for viewer
func (r *PostgresRepository) ListForCase(ctx context.Context, caseID, viewer types.ID) ([]Entry, error) {
	return r.ListForCases(ctx, []types.ID{caseID}, viewer)
}

// ListForCases lists the messages of several cases for viewer
func (r *PostgresRepository) ListForCases(ctx context.Context, caseIDs []types.ID, viewer types.ID) ([]Entry, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.user_id = $1
		WHERE m.case_id = ANY($2)
		ORDER BY m.created_at DESC, m.id DESC`, viewer, types.IDs(caseIDs),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			role        string
			attachments []byte
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.SenderID, &e.Content, &e.Subject, &e.IsFlagged,
			&attachments, &e.CreatedAt, &e.UpdatedAt, &e.Sender.Name, &e.Sender.Email, &role, &e.ReadAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		e.Attachments = rawJSON(attachments)
		e.Sender.ID = e.SenderID
		e.Sender.Role = authz.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	return entries, nil
}

// MarkRead inserts the missing receipts in one statement
func (r *PostgresRepository) MarkRead(ctx context.Context, viewer types.ID, messageIDs []types.ID, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(messageIDs))
	for i := range ids {
		ids[i] = types.NewID().String()
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO message_reads (id, message_id, user_id, read_at)
		SELECT rr.id, rr.message_id, $3, $4
		FROM unnest($1::text[], $2::text[]) AS rr(id, message_id)
		ON CONFLICT ON CONSTRAINT message_reads_message_user_key DO NOTHING`,
		ids, types.IDs(messageIDs), viewer, at,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to record read receipts")
	}
	return int(tag.RowsAffected()), nil
}

func rawJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
