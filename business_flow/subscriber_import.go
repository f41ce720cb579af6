package businessflow

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/amirphl/newsletter-dashboard/app/dto"
	"github.com/amirphl/newsletter-dashboard/logger"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/repository"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	ImportFormatCSV  = "csv"
	ImportFormatXLSX = "xlsx"

	exportSheetName = "subscribers"
)

var exportHeader = []any{"id", "email", "status", "category", "source", "subscription_date", "created_at"}

// importRow is one email taken from an uploaded list; Row is 1-based and counts the header
type importRow struct {
	Row   int
	Email string
}

// ImportSubscribers creates a subscriber for every email in an uploaded CSV or XLSX list.
// Rows go through the regular creation path one at a time under the provider rate limit.
func (s *SubscriberFlowImpl) ImportSubscribers(ctx context.Context, req *dto.ImportSubscribersRequest, file io.Reader) (*dto.ImportSubscribersResponse, error) {
	category := models.SubscriberCategoryGeneral
	if req.Category != "" {
		category = models.SubscriberCategory(req.Category)
		if !category.Valid() {
			return nil, newBadRequest("INVALID_CATEGORY", "Invalid category: "+req.Category, ErrInvalidCategory)
		}
	}

	var (
		rows []importRow
		err  error
	)
	switch strings.ToLower(req.Format) {
	case ImportFormatCSV:
		rows, err = readCSVEmails(file)
	case ImportFormatXLSX:
		rows, err = readXLSXEmails(file)
	default:
		return nil, newBadRequest("UNSUPPORTED_IMPORT_FORMAT", "Only csv and xlsx files can be imported", ErrUnsupportedImportFormat)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailColumnMissing):
			return nil, newBadRequest("EMAIL_COLUMN_MISSING", "No email column found in the file header", err)
		case errors.Is(err, ErrEmptyImport):
			return nil, newBadRequest("EMPTY_IMPORT", "The file contains no subscribers", err)
		default:
			return nil, newBadRequest("IMPORT_PARSE_FAILED", "Failed to read the uploaded file", err)
		}
	}

	// A contact created on the provider must get its local row, so the batch is not
	// cut short by the request deadline
	ctx = context.WithoutCancel(ctx)
	resp := &dto.ImportSubscribersResponse{Total: len(rows)}
	results := RunRateLimited(ctx, rows, s.providerConfig.ContactRemovalInterval, func(ctx context.Context, row importRow) error {
		_, err := s.createSubscriber(ctx, row.Email, category, models.SubscriberSourceImport)
		return err
	})

	for _, r := range results {
		switch {
		case r.Err == nil:
			resp.Imported++
		case IsEmailAlreadySubscribed(r.Err):
			resp.Skipped++
		default:
			resp.Failed++
			resp.Errors = append(resp.Errors, dto.ImportRowError{
				Row:   r.Item.Row,
				Email: r.Item.Email,
				Error: importErrorMessage(r.Err),
			})
		}
	}

	if resp.Imported > 0 {
		s.invalidateStats(ctx)
	}
	logger.WithContext(ctx, s.logger).Info("subscribers imported",
		zap.String("filename", req.Filename),
		zap.Int("total", resp.Total),
		zap.Int("imported", resp.Imported),
		zap.Int("skipped", resp.Skipped),
		zap.Int("failed", resp.Failed),
	)

	return resp, nil
}

// ExportSubscribers writes the matching subscribers to an XLSX workbook, newest first
func (s *SubscriberFlowImpl) ExportSubscribers(ctx context.Context, req *dto.ExportSubscribersRequest) (*dto.ExportSubscribersResponse, error) {
	filter := models.SubscriberFilter{}
	if req.Category != nil && *req.Category != "" {
		category := models.SubscriberCategory(*req.Category)
		if !category.Valid() {
			return nil, newBadRequest("INVALID_CATEGORY", "Invalid category: "+*req.Category, ErrInvalidCategory)
		}
		filter.Category = &category
	}
	if req.Status != nil && *req.Status != "" {
		status := models.SubscriberStatus(*req.Status)
		if !status.Valid() {
			return nil, newBadRequest("INVALID_STATUS", "Invalid status: "+*req.Status, ErrInvalidStatus)
		}
		filter.Status = &status
	}

	subscribers, err := s.subscriberRepo.ByFilter(ctx, filter, repository.OrderNewestFirst, 0, 0)
	if err != nil {
		return nil, NewBusinessError("EXPORT_SUBSCRIBERS_FAILED", "Failed to export subscribers", err)
	}

	data, err := buildSubscribersWorkbook(subscribers)
	if err != nil {
		return nil, NewBusinessError("EXPORT_SUBSCRIBERS_FAILED", "Failed to export subscribers", err)
	}

	return &dto.ExportSubscribersResponse{
		Filename: fmt.Sprintf("subscribers-%s.xlsx", utils.UTCNow().Format("20060102-150405")),
		Data:     data,
		Rows:     len(subscribers),
	}, nil
}

func buildSubscribersWorkbook(subscribers []*models.Subscriber) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheetName, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, sub := range subscribers {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{
			sub.ID.String(),
			sub.Email,
			sub.Status.String(),
			sub.Category.String(),
			sub.Source,
			sub.SubscriptionDate.UTC().Format("2006-01-02 15:04:05"),
			sub.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(exportSheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func readCSVEmails(r io.Reader) ([]importRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return emailsFromRecords(records)
}

func readXLSXEmails(r io.Reader) ([]importRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyImport
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return emailsFromRecords(records)
}

// emailsFromRecords picks the first header column whose name contains "email"
// and returns its non-blank values
func emailsFromRecords(records [][]string) ([]importRow, error) {
	if len(records) == 0 {
		return nil, ErrEmptyImport
	}

	col := -1
	for i, name := range records[0] {
		name = strings.TrimPrefix(name, "\ufeff")
		if strings.Contains(strings.ToLower(name), "email") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrEmailColumnMissing
	}

	rows := make([]importRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if col >= len(record) {
			continue
		}
		email := strings.TrimSpace(record[col])
		if email == "" {
			continue
		}
		rows = append(rows, importRow{Row: i + 2, Email: email})
	}
	if len(rows) == 0 {
		return nil, ErrEmptyImport
	}
	return rows, nil
}

func importErrorMessage(err error) string {
	if be, ok := AsBusinessError(err); ok {
		return be.Message
	}
	return err.Error()
}
