package message

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// SQLiteRepository is the embedded Store used for local runs and tests.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a message repository on an opened SQLite database
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ Store = (*SQLiteRepository)(nil)

func (r *SQLiteRepository) Create(ctx context.Context, m *Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, case_id, sender_id, content, subject, is_flagged, attachments,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.CaseID.String(), m.SenderID.String(), m.Content, m.Subject,
		database.BoolInt(m.IsFlagged), database.NullJSON(m.Attachments),
		database.ToNanos(m.CreatedAt), database.ToNanos(m.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save message")
	}
	return nil
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id types.ID) (*Message, error) {
	var (
		m                    Message
		subject, attachments sql.NullString
		flagged              int
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, case_id, sender_id, content, subject, is_flagged, attachments,
			created_at, updated_at
		FROM messages WHERE id = ?`, id.String(),
	).Scan(&m.ID, &m.CaseID, &m.SenderID, &m.Content, &subject, &flagged,
		&attachments, &createdAt, &updatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("message", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find message")
	}

	m.Subject = nullableString(subject)
	m.IsFlagged = flagged != 0
	m.Attachments = rawJSON([]byte(attachments.String))
	m.CreatedAt = database.FromNanos(createdAt)
	m.UpdatedAt = database.FromNanos(updatedAt)
	return &m, nil
}

func (r *SQLiteRepository) SetFlagged(ctx context.Context, id types.ID, flagged bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_flagged = ?, updated_at = ? WHERE id = ?`,
		database.BoolInt(flagged), database.ToNanos(at), id.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("message", id.String())
	}
	return nil
}

func (r *SQLiteRepository) ListForCase(ctx context.Context, caseID, viewer types.ID) ([]Entry, error) {
	return r.ListForCases(ctx, []types.ID{caseID}, viewer)
}

func (r *SQLiteRepository) ListForCases(ctx context.Context, caseIDs []types.ID, viewer types.ID) ([]Entry, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(caseIDs)+1)
	args = append(args, viewer.String())
	for _, id := range caseIDs {
		args = append(args, id.String())
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(caseIDs)), ", ")

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.user_id = ?
		WHERE m.case_id IN (`+in+`)
		ORDER BY m.created_at DESC, m.id DESC`, args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                    Entry
			subject, attachments sql.NullString
			role                 string
			flagged              int
			createdAt, updatedAt int64
			readAt               sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.SenderID, &e.Content, &subject, &flagged,
			&attachments, &createdAt, &updatedAt, &e.Sender.Name, &e.Sender.Email, &role, &readAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		e.Subject = nullableString(subject)
		e.IsFlagged = flagged != 0
		e.Attachments = rawJSON([]byte(attachments.String))
		e.CreatedAt = database.FromNanos(createdAt)
		e.UpdatedAt = database.FromNanos(updatedAt)
		e.Sender.ID = e.SenderID
		e.Sender.Role = authz.Role(role)
		e.ReadAt = database.FromNullNanos(readAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	return entries, nil
}

// MarkRead inserts one receipt per message inside a transaction; conflicts
// on (message_id, user_id) are skipped.
func (r *SQLiteRepository) MarkRead(ctx context.Context, viewer types.ID, messageIDs []types.ID, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	added := 0
	for _, id := range messageIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO message_reads (id, message_id, user_id, read_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (message_id, user_id) DO NOTHING`,
			types.NewID().String(), id.String(), viewer.String(), database.ToNanos(at),
		)
		if err != nil {
			return 0, errors.Wrap(err, "failed to record read receipt")
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit read receipts")
	}
	return added, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
