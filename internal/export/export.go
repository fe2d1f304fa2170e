// Package export renders amortization schedules as downloadable documents.
package export

import (
	"bytes"
	"fmt"
	"loan-engine/internal/amortization"
	"loan-engine/internal/pkg/apperrors"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"

	scheduleSheet = "Schedule"
	// excelize built-in format "#,##0.00"
	moneyNumFmt = 4
)

var scheduleHeaders = []string{"Payment #", "Payment", "Principal", "Interest", "Balance"}

// Meta describes the request a schedule was calculated for.
type Meta struct {
	Title       string
	Input       amortization.Input
	GeneratedAt time.Time
}

type Document struct {
	FileName    string
	ContentType string
	Body        []byte
}

// Render dispatches on format. Unknown formats are rejected with
// ErrInvalidArgument.
func Render(format string, result *amortization.Result, meta Meta) (*Document, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatXLSX:
		return ScheduleXLSX(result, meta)
	case FormatPDF:
		return SchedulePDF(result, meta)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", apperrors.ErrInvalidArgument, format)
	}
}

// ScheduleXLSX writes a one-sheet workbook: summary block on top, schedule
// table below.
func ScheduleXLSX(result *amortization.Result, meta Meta) (*Document, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nothing to export", apperrors.ErrInvalidArgument)
	}
	meta = meta.withDefaults()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", scheduleSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create title style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: moneyNumFmt})
	if err != nil {
		return nil, fmt.Errorf("failed to create money style: %w", err)
	}

	set := func(col, row int, value any, style int) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(scheduleSheet, cell, value); err != nil {
			return err
		}
		if style != 0 {
			return f.SetCellStyle(scheduleSheet, cell, cell, style)
		}
		return nil
	}

	summary := result.Summary()
	rows := [][]any{
		{"Principal", meta.Input.Principal},
		{"Annual rate (%)", meta.Input.AnnualRatePercent},
		{"Term (months)", meta.Input.TermMonths},
		{"Monthly payment", summary.MonthlyPayment.InexactFloat64()},
		{"Final payment", summary.FinalPayment.InexactFloat64()},
		{"Total amount", summary.TotalAmount.InexactFloat64()},
		{"Total interest", summary.TotalInterest.InexactFloat64()},
		{"Generated at", meta.GeneratedAt.Format(time.RFC3339)},
	}

	if err := set(1, 1, meta.Title, titleStyle); err != nil {
		return nil, fmt.Errorf("failed to write title: %w", err)
	}
	line := 3
	for i, r := range rows {
		style := 0
		if i >= 3 && i <= 6 {
			style = moneyStyle
		}
		if err := set(1, line, r[0], headerStyle); err != nil {
			return nil, fmt.Errorf("failed to write summary: %w", err)
		}
		if err := set(2, line, r[1], style); err != nil {
			return nil, fmt.Errorf("failed to write summary: %w", err)
		}
		line++
	}

	line++
	for i, h := range scheduleHeaders {
		if err := set(i+1, line, h, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}
	line++

	for _, row := range result.Schedule {
		values := []any{
			row.PaymentNumber,
			row.Payment.InexactFloat64(),
			row.Principal.InexactFloat64(),
			row.Interest.InexactFloat64(),
			row.Balance.InexactFloat64(),
		}
		for i, v := range values {
			style := moneyStyle
			if i == 0 {
				style = 0
			}
			if err := set(i+1, line, v, style); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row.PaymentNumber, err)
			}
		}
		line++
	}

	if err := f.SetColWidth(scheduleSheet, "A", "E", 18); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	return &Document{
		FileName:    meta.fileName(FormatXLSX),
		ContentType: ContentTypeXLSX,
		Body:        buf.Bytes(),
	}, nil
}

// SchedulePDF renders the summary and the schedule table on A4 portrait pages.
func SchedulePDF(result *amortization.Result, meta Meta) (*Document, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nothing to export", apperrors.ErrInvalidArgument)
	}
	meta = meta.withDefaults()
	summary := result.Summary()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(meta.Title, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, meta.Title)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	for _, line := range []string{
		fmt.Sprintf("Principal: %.2f", meta.Input.Principal),
		fmt.Sprintf("Annual rate: %g%%", meta.Input.AnnualRatePercent),
		fmt.Sprintf("Term: %d months", meta.Input.TermMonths),
		"Monthly payment: " + summary.MonthlyPayment.StringFixed(2),
		"Final payment: " + summary.FinalPayment.StringFixed(2),
		"Total amount: " + summary.TotalAmount.StringFixed(2),
		"Total interest: " + summary.TotalInterest.StringFixed(2),
		"Generated at: " + meta.GeneratedAt.Format(time.RFC3339),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	widths := []float64{22, 42, 42, 42, 42}
	header := func() {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(224, 224, 224)
		for i, h := range scheduleHeaders {
			pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range result.Schedule {
		if pdf.GetY()+6 > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		pdf.CellFormat(widths[0], 6, fmt.Sprintf("%d", row.PaymentNumber), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[1], 6, row.Payment.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, row.Principal.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, row.Interest.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, row.Balance.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}

	return &Document{
		FileName:    meta.fileName(FormatPDF),
		ContentType: ContentTypePDF,
		Body:        buf.Bytes(),
	}, nil
}

func (m Meta) withDefaults() Meta {
	if m.Title == "" {
		m.Title = "Amortization Schedule"
	}
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	return m
}

func (m Meta) fileName(ext string) string {
	return fmt.Sprintf("amortization_%s.%s", m.GeneratedAt.Format("20060102_150405"), ext)
}
