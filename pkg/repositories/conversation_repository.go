package repositories

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/omnifin/backoffice/pkg/access"
	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/models"
)

var conversationScope = access.Columns{Owner: "c.user_id", Group: "c.group_id"}

// ConversationFilter narrows conversation lists.
type ConversationFilter struct {
	Status string
	Type   string
	Page
}

// ConversationRepository provides data access for conversations, messages and voice recordings.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.Conversation, error)
	// GetOwned loads a conversation only if userID owns it.
	GetOwned(ctx context.Context, userID, id int64) (*models.Conversation, error)
	// GetLatestForUser returns the most recently started conversation of userID.
	GetLatestForUser(ctx context.Context, userID int64) (*models.Conversation, error)
	List(ctx context.Context, p models.Principal, filter ConversationFilter) ([]*models.Conversation, error)
	// End stamps ended_at and duration once. It reports whether this call ended the conversation.
	End(ctx context.Context, id int64, at time.Time) (bool, error)
	// SetStatus moves a conversation from one status to another.
	// Returns ErrInvalidTransition when the current status is not from.
	SetStatus(ctx context.Context, id int64, from, to string) error

	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID int64, page Page) ([]*models.Message, error)
	// RecentMessages returns the last n user and ai messages, oldest first.
	RecentMessages(ctx context.Context, conversationID int64, n int) ([]*models.Message, error)
	GetMessage(ctx context.Context, p models.Principal, id int64) (*models.Message, error)

	CreateRecording(ctx context.Context, rec *models.VoiceRecording) error
	GetRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, error)
}

type conversationRepository struct{}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository() ConversationRepository {
	return &conversationRepository{}
}

var _ ConversationRepository = (*conversationRepository)(nil)

const conversationColumns = `c.id, c.user_id, c.group_id, c.conversation_type, c.status, c.started_at,
	c.ended_at, c.duration, c.metadata,
	(SELECT count(*) FROM messages m WHERE m.conversation_id = c.id)`

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (user_id, group_id, conversation_type, status, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, started_at`

	err = scope.Conn.QueryRow(ctx, query,
		conv.UserID, conv.GroupID, conv.Type, conv.Status, jsonMap(conv.Metadata),
	).Scan(&conv.ID, &conv.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", database.MapError(err))
	}
	return nil
}

func (r *conversationRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.Conversation, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(conversationColumns).From("conversations c").
		Where(sq.Eq{"c.id": id}).
		Where(access.Scope(p, conversationScope))
	return selectOne(ctx, scope.Conn, b, scanConversationRow)
}

func (r *conversationRepository) GetOwned(ctx context.Context, userID, id int64) (*models.Conversation, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(conversationColumns).From("conversations c").
		Where(sq.Eq{"c.id": id, "c.user_id": userID})
	return selectOne(ctx, scope.Conn, b, scanConversationRow)
}

func (r *conversationRepository) GetLatestForUser(ctx context.Context, userID int64) (*models.Conversation, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(conversationColumns).From("conversations c").
		Where(sq.Eq{"c.user_id": userID}).
		OrderBy("c.started_at DESC", "c.id DESC").
		Limit(1)
	return selectOne(ctx, scope.Conn, b, scanConversationRow)
}

func (r *conversationRepository) List(ctx context.Context, p models.Principal, filter ConversationFilter) ([]*models.Conversation, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(conversationColumns).From("conversations c").
		Where(access.Scope(p, conversationScope)).
		OrderBy("c.started_at DESC", "c.id DESC")
	if filter.Status != "" {
		b = b.Where(sq.Eq{"c.status": filter.Status})
	}
	if filter.Type != "" {
		b = b.Where(sq.Eq{"c.conversation_type": filter.Type})
	}
	return selectAll(ctx, scope.Conn, filter.Page.apply(b), scanConversationRow)
}

func (r *conversationRepository) End(ctx context.Context, id int64, at time.Time) (bool, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE conversations
		SET ended_at = $2::timestamptz,
			duration = floor(extract(epoch FROM ($2::timestamptz - started_at)))::bigint,
			status = 'ended'
		WHERE id = $1 AND ended_at IS NULL`

	tag, err := scope.Conn.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to end conversation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *conversationRepository) SetStatus(ctx context.Context, id int64, from, to string) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE conversations SET status = $3 WHERE id = $1 AND status = $2 AND ended_at IS NULL`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrInvalidTransition
	}
	return nil
}

// ============================================================================
// Messages
// ============================================================================

const messageColumns = `m.id, m.conversation_id, m.sender_type, m.sender_id, m.message_type,
	m.content, m.file_url, m.metadata, m.created_at`

func (r *conversationRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (conversation_id, sender_type, sender_id, message_type, content, file_url, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		msg.ConversationID, msg.SenderType, msg.SenderID, msg.MessageType, msg.Content, msg.FileURL,
		jsonMap(msg.Metadata),
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", database.MapError(err))
	}
	return nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID int64, page Page) ([]*models.Message, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(messageColumns).From("messages m").
		Where(sq.Eq{"m.conversation_id": conversationID}).
		OrderBy("m.created_at", "m.id")
	return selectAll(ctx, scope.Conn, page.apply(b), scanMessageRow)
}

func (r *conversationRepository) RecentMessages(ctx context.Context, conversationID int64, n int) ([]*models.Message, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + `
			FROM messages m
			WHERE m.conversation_id = $1 AND m.sender_type IN ('user', 'ai')
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, n)
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *conversationRepository) GetMessage(ctx context.Context, p models.Principal, id int64) (*models.Message, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(messageColumns).From("messages m").
		Join("conversations c ON c.id = m.conversation_id").
		Where(sq.Eq{"m.id": id}).
		Where(access.Scope(p, conversationScope))
	return selectOne(ctx, scope.Conn, b, scanMessageRow)
}

// ============================================================================
// Voice recordings
// ============================================================================

func (r *conversationRepository) CreateRecording(ctx context.Context, rec *models.VoiceRecording) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO voice_recordings (message_id, storage_key, duration, transcript, language, confidence_score)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		rec.MessageID, rec.StorageKey, rec.Duration, rec.Transcript, rec.Language, rec.ConfidenceScore,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create voice recording: %w", database.MapError(err))
	}
	return nil
}

func (r *conversationRepository) GetRecording(ctx context.Context, p models.Principal, id int64) (*models.VoiceRecording, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select("v.id, v.message_id, v.storage_key, v.duration, v.transcript, v.language, v.confidence_score, v.created_at").
		From("voice_recordings v").
		Join("messages m ON m.id = v.message_id").
		Join("conversations c ON c.id = m.conversation_id").
		Where(sq.Eq{"v.id": id}).
		Where(access.Scope(p, conversationScope))
	return selectOne(ctx, scope.Conn, b, scanRecordingRow)
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanConversationRow(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.GroupID, &c.Type, &c.Status, &c.StartedAt,
		&c.EndedAt, &c.Duration, &c.Metadata, &c.MessageCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

func scanMessageRow(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID, &m.MessageType,
		&m.Content, &m.FileURL, &m.Metadata, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &m, nil
}

func scanRecordingRow(row pgx.Row) (*models.VoiceRecording, error) {
	var v models.VoiceRecording
	err := row.Scan(&v.ID, &v.MessageID, &v.StorageKey, &v.Duration, &v.Transcript, &v.Language,
		&v.ConfidenceScore, &v.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan voice recording: %w", err)
	}
	return &v, nil
}
