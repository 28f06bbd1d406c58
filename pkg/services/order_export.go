package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/models"
)

const (
	exportSheet    = "Orders"
	exportMaxRows  = 10000
	exportDateTime = "2006-01-02 15:04"
)

var exportHeaders = []any{
	"ID", "User", "Group", "Type", "Status", "Priority", "Amount",
	"Conversation", "Assigned To", "Created", "Updated", "Completed",
}

func (s *orderService) Export(ctx context.Context, p models.Principal, filter models.OrderFilter, w io.Writer) error {
	if filter.Limit == 0 || filter.Limit > exportMaxRows {
		filter.Limit = exportMaxRows
	}
	orders, err := s.List(ctx, p, filter)
	if err != nil {
		return err
	}

	f, err := OrdersWorkbook(orders)
	if err != nil {
		s.logger.Error("Failed to build order export", zap.Error(err))
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	s.logger.Info("Orders exported", zap.Int64("user_id", p.UserID), zap.Int("rows", len(orders)))
	return nil
}

// OrdersWorkbook lays orders out one per row under a bold header.
func OrdersWorkbook(orders []*models.Order) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", "L1", style); err != nil {
		return nil, err
	}

	for i, o := range orders {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := exportRow(o)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(exportSheet, "J", "L", 18)
	return f, nil
}

func exportRow(o *models.Order) []any {
	amount := ""
	if o.Amount != nil {
		amount = o.Amount.StringFixed(2)
	}
	return []any{
		o.ID, o.UserID, optionalID(o.GroupID), o.OrderType, o.Status, o.Priority, amount,
		optionalID(o.ConversationID), optionalID(o.AssignedTo),
		o.CreatedAt.Format(exportDateTime), o.UpdatedAt.Format(exportDateTime), optionalTime(o.CompletedAt),
	}
}

func optionalID(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(exportDateTime)
}
