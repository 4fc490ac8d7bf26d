package message

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// Message is a note exchanged on a case. Only IsFlagged changes after
// creation.
type Message struct {
	ID          types.ID        `json:"id"`
	CaseID      types.ID        `json:"caseId"`
	SenderID    types.ID        `json:"senderId"`
	Content     string          `json:"content"`
	Subject     *string         `json:"subject"`
	IsFlagged   bool            `json:"isFlagged"`
	Attachments json.RawMessage `json:"attachments"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewMessage validates and builds a message. Content and subject are
// trimmed; an empty subject is stored as absent.
func NewMessage(caseID, senderID types.ID, content string, subject *string, flagged bool, attachments json.RawMessage, now time.Time) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.BadRequest(msgContentRequired).WithCode("MISSING_CONTENT")
	}

	var subj *string
	if subject != nil {
		if s := strings.TrimSpace(*subject); s != "" {
			subj = &s
		}
	}

	if len(attachments) == 0 || string(attachments) == "null" {
		attachments = nil
	}

	return &Message{
		ID:          types.NewID(),
		CaseID:      caseID,
		SenderID:    senderID,
		Content:     content,
		Subject:     subj,
		IsFlagged:   flagged,
		Attachments: attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Sender is the public part of the user who wrote a message.
type Sender struct {
	ID    types.ID   `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  authz.Role `json:"role"`
}

// Entry is a message joined with its sender and the viewer's read receipt.
type Entry struct {
	Message
	Sender Sender
	ReadAt *time.Time
}

// IsRead reports whether viewer has read the message. A sender never has
// unread messages of their own.
func (e Entry) IsRead(viewer types.ID) bool {
	return e.SenderID == viewer || e.ReadAt != nil
}

// Unread returns the IDs of entries viewer still has to read.
func Unread(entries []Entry, viewer types.ID) []types.ID {
	var ids []types.ID
	for _, e := range entries {
		if !e.IsRead(viewer) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// CaseRef identifies a case in the inbox.
type CaseRef struct {
	ID         types.ID
	CaseNumber string
	Title      string
}

// Summary aggregates a case's messages for one viewer.
type Summary struct {
	Total   int
	Unread  int
	Flagged bool
	Latest  *Entry
}

// Summarize folds entries, newest first, into per-case summaries.
func Summarize(entries []Entry, viewer types.ID) map[types.ID]Summary {
	out := make(map[types.ID]Summary)
	for i := range entries {
		e := &entries[i]
		s := out[e.CaseID]
		s.Total++
		if !e.IsRead(viewer) {
			s.Unread++
		}
		if e.IsFlagged {
			s.Flagged = true
		}
		if s.Latest == nil || e.CreatedAt.After(s.Latest.CreatedAt) {
			s.Latest = e
		}
		out[e.CaseID] = s
	}
	return out
}

// LatestMessage is the newest message shown on an inbox row.
type LatestMessage struct {
	ID        types.ID  `json:"id"`
	Content   string    `json:"content"`
	Subject   *string   `json:"subject"`
	Sender    Sender    `json:"sender"`
	IsFlagged bool      `json:"isFlagged"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// Communication is one inbox row.
type Communication struct {
	CaseID             types.ID       `json:"caseId"`
	CaseNumber         string         `json:"caseNumber"`
	Title              string         `json:"title"`
	UnreadCount        int            `json:"unreadCount"`
	HasFlaggedMessages bool           `json:"hasFlaggedMessages"`
	LatestMessage      *LatestMessage `json:"latestMessage"`
	TotalMessages      int            `json:"totalMessages"`
}

// Inbox is the response of the inbox endpoint.
type Inbox struct {
	Communications []Communication `json:"communications"`
	TotalUnread    int             `json:"totalUnread"`
}

// BuildInbox renders one row per case ordered by unread count, then flagged
// first, then newest message. Cases without messages sort last.
func BuildInbox(cases []CaseRef, summaries map[types.ID]Summary, viewer types.ID) Inbox {
	rows := make([]Communication, 0, len(cases))
	total := 0
	for _, c := range cases {
		s := summaries[c.ID]
		row := Communication{
			CaseID:             c.ID,
			CaseNumber:         c.CaseNumber,
			Title:              c.Title,
			UnreadCount:        s.Unread,
			HasFlaggedMessages: s.Flagged,
			TotalMessages:      s.Total,
		}
		if s.Latest != nil {
			row.LatestMessage = &LatestMessage{
				ID:        s.Latest.ID,
				Content:   s.Latest.Content,
				Subject:   s.Latest.Subject,
				Sender:    s.Latest.Sender,
				IsFlagged: s.Latest.IsFlagged,
				CreatedAt: s.Latest.CreatedAt,
				IsRead:    s.Latest.IsRead(viewer),
			}
		}
		total += s.Unread
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.UnreadCount != b.UnreadCount {
			return a.UnreadCount > b.UnreadCount
		}
		if a.HasFlaggedMessages != b.HasFlaggedMessages {
			return a.HasFlaggedMessages
		}
		switch {
		case a.LatestMessage == nil || b.LatestMessage == nil:
			return a.LatestMessage != nil && b.LatestMessage == nil
		default:
			return a.LatestMessage.CreatedAt.After(b.LatestMessage.CreatedAt)
		}
	})

	return Inbox{Communications: rows, TotalUnread: total}
}
