package repositories

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/omnifin/backoffice/pkg/access"
	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/models"
)

var (
	orderScope    = access.Columns{Owner: "o.user_id", Group: "o.group_id"}
	documentScope = orderScope
)

// StatusChange describes one order status transition.
type StatusChange struct {
	OrderID   int64
	NewStatus string
	ChangedBy *int64
	Notes     string
	At        time.Time
}

// OrderRepository provides data access for orders, their status history and documents.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.Order, error)
	List(ctx context.Context, p models.Principal, filter models.OrderFilter) ([]*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	// ChangeStatus updates the status and appends a history row in one transaction.
	// Moving to completed stamps completed_at.
	ChangeStatus(ctx context.Context, change StatusChange) (*models.Order, *models.OrderStatusHistory, error)
	History(ctx context.Context, orderID int64) ([]*models.OrderStatusHistory, error)

	CreateDocument(ctx context.Context, doc *models.OrderDocument) error
	ListDocuments(ctx context.Context, orderID int64) ([]*models.OrderDocument, error)
	GetDocument(ctx context.Context, p models.Principal, id int64) (*models.OrderDocument, error)
	DeleteDocument(ctx context.Context, id int64) error
}

type orderRepository struct{}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository() OrderRepository {
	return &orderRepository{}
}

var _ OrderRepository = (*orderRepository)(nil)

const orderColumns = `o.id, o.user_id, o.group_id, o.order_type, o.status, o.priority, o.amount,
	o.conversation_id, o.assigned_to, o.metadata, o.created_at, o.updated_at, o.completed_at`

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (
			user_id, group_id, order_type, status, priority, amount,
			conversation_id, assigned_to, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		order.UserID, order.GroupID, order.OrderType, order.Status, order.Priority, nullDecimal(order.Amount),
		order.ConversationID, order.AssignedTo, jsonMap(order.Metadata),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", database.MapError(err))
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.Order, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(orderColumns).From("orders o").
		Where(sq.Eq{"o.id": id}).
		Where(access.Scope(p, orderScope))
	return selectOne(ctx, scope.Conn, b, scanOrderRow)
}

func (r *orderRepository) List(ctx context.Context, p models.Principal, filter models.OrderFilter) ([]*models.Order, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(orderColumns).From("orders o").
		Where(access.Scope(p, orderScope)).
		OrderBy("o.created_at DESC", "o.id DESC")
	if filter.Status != "" {
		b = b.Where(sq.Eq{"o.status": filter.Status})
	}
	if filter.OrderType != "" {
		b = b.Where(sq.Eq{"o.order_type": filter.OrderType})
	}
	b = Page{Limit: filter.Limit, Offset: filter.Offset}.apply(b)
	return selectAll(ctx, scope.Conn, b, scanOrderRow)
}

func (r *orderRepository) Update(ctx context.Context, order *models.Order) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders SET
			priority = $2, amount = $3, assigned_to = $4, metadata = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		order.ID, order.Priority, nullDecimal(order.Amount), order.AssignedTo, jsonMap(order.Metadata),
	).Scan(&order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", database.MapError(err))
	}
	return nil
}

func (r *orderRepository) ChangeStatus(ctx context.Context, change StatusChange) (*models.Order, *models.OrderStatusHistory, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		order   *models.Order
		history *models.OrderStatusHistory
	)
	err = scope.InTx(ctx, func(tx pgx.Tx) error {
		var oldStatus string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, change.OrderID).Scan(&oldStatus)
		if err != nil {
			return database.MapError(err)
		}

		update := `
			UPDATE orders o SET
				status = $2,
				updated_at = $3,
				completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE o.completed_at END
			WHERE o.id = $1
			RETURNING ` + orderColumns
		order, err = scanOrderRow(tx.QueryRow(ctx, update, change.OrderID, change.NewStatus, change.At))
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", database.MapError(err))
		}

		insert := `
			INSERT INTO order_status_history (order_id, old_status, new_status, changed_by, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, order_id, old_status, new_status, changed_by, notes, created_at`
		history, err = scanStatusHistoryRow(tx.QueryRow(ctx, insert,
			change.OrderID, oldStatus, change.NewStatus, change.ChangedBy, change.Notes, change.At))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return order, history, nil
}

func (r *orderRepository) History(ctx context.Context, orderID int64) ([]*models.OrderStatusHistory, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select("id, order_id, old_status, new_status, changed_by, notes, created_at").
		From("order_status_history").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at DESC", "id DESC")
	return selectAll(ctx, scope.Conn, b, scanStatusHistoryRow)
}

// ============================================================================
// Documents
// ============================================================================

const documentColumns = `d.id, d.order_id, d.document_type, d.storage_key, d.original_name, d.size,
	d.mime_type, d.uploaded_by, d.is_verified, d.verification_notes, d.created_at`

func (r *orderRepository) CreateDocument(ctx context.Context, doc *models.OrderDocument) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO order_documents (
			order_id, document_type, storage_key, original_name, size, mime_type, uploaded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		doc.OrderID, doc.DocumentType, doc.StorageKey, doc.OriginalName, doc.Size, doc.MimeType, doc.UploadedBy,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order document: %w", database.MapError(err))
	}
	return nil
}

func (r *orderRepository) ListDocuments(ctx context.Context, orderID int64) ([]*models.OrderDocument, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(documentColumns).From("order_documents d").
		Where(sq.Eq{"d.order_id": orderID}).
		OrderBy("d.created_at", "d.id")
	return selectAll(ctx, scope.Conn, b, scanDocumentRow)
}

func (r *orderRepository) GetDocument(ctx context.Context, p models.Principal, id int64) (*models.OrderDocument, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(documentColumns).From("order_documents d").
		Join("orders o ON o.id = d.order_id").
		Where(sq.Eq{"d.id": id}).
		Where(access.Scope(p, documentScope))
	return selectOne(ctx, scope.Conn, b, scanDocumentRow)
}

func (r *orderRepository) DeleteDocument(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("order_documents").Where(sq.Eq{"id": id}))
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func scanOrderRow(row pgx.Row) (*models.Order, error) {
	var (
		o      models.Order
		amount decimal.NullDecimal
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.GroupID, &o.OrderType, &o.Status, &o.Priority, &amount,
		&o.ConversationID, &o.AssignedTo, &o.Metadata, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	if amount.Valid {
		o.Amount = &amount.Decimal
	}
	return &o, nil
}

func scanStatusHistoryRow(row pgx.Row) (*models.OrderStatusHistory, error) {
	var h models.OrderStatusHistory
	if err := row.Scan(&h.ID, &h.OrderID, &h.OldStatus, &h.NewStatus, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan status history: %w", err)
	}
	return &h, nil
}

func scanDocumentRow(row pgx.Row) (*models.OrderDocument, error) {
	var d models.OrderDocument
	err := row.Scan(&d.ID, &d.OrderID, &d.DocumentType, &d.StorageKey, &d.OriginalName, &d.Size,
		&d.MimeType, &d.UploadedBy, &d.IsVerified, &d.VerificationNotes, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order document: %w", err)
	}
	return &d, nil
}
