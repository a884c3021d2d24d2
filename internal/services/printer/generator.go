package printer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// BatchLabel describes one completed batch to print.
type BatchLabel struct {
	BatchNumber string
	BatchType   string
	Workorder   string
	SessionID   string
	CompletedAt time.Time
}

// GenerateBatchLabelPDF renders a single A6 batch label with a QR code
// encoding the batch number, scannable back into the system.
func GenerateBatchLabelPDF(label BatchLabel) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A6", "")
	pdf.SetMargins(8, 8, 8)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Batch %s", label.BatchNumber), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Type: %s", label.BatchType), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Workorder: %s", label.Workorder), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Completed: %s", label.CompletedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")

	// QR protocol: BATCH/{number}/{session}
	qrContent := fmt.Sprintf("BATCH/%s/%s", label.BatchNumber, label.SessionID)
	qrPng, err := qrcode.Encode(qrContent, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR: %w", err)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("batch-qr", opts, bytes.NewReader(qrPng))
	pdf.ImageOptions("batch-qr", 8, 46, 50, 50, false, opts, 0, "")

	pdf.SetY(100)
	pdf.SetFont("Arial", "", 7)
	pdf.CellFormat(0, 4, label.SessionID, "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}
