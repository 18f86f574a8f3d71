// Package ticket signs QR payloads for event check-in and renders ticket and
// receipt PDFs.
package ticket

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("ticket: invalid payload")

type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Pass is the decoded content of a check-in QR code.
type Pass struct {
	EventID  string
	UserID   string
	IssuedAt time.Time
}

func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Payload returns eventID|userID|unix|signature.
func (s *Signer) Payload(p Pass) string {
	data := fmt.Sprintf("%s|%s|%d", p.EventID, p.UserID, p.IssuedAt.Unix())
	return data + "|" + s.sign(data)
}

func (s *Signer) Verify(payload string) (Pass, error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" {
		return Pass{}, ErrInvalidPayload
	}
	data := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(s.sign(data)), []byte(parts[3])) {
		return Pass{}, ErrInvalidPayload
	}
	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Pass{}, ErrInvalidPayload
	}
	return Pass{EventID: parts[0], UserID: parts[1], IssuedAt: time.Unix(unix, 0).UTC()}, nil
}

type EventTicket struct {
	Title    string
	Date     string
	Start    string
	End      string
	Location string
	Name     string
	Email    string
	Payload  string
}

func (t EventTicket) PDF() ([]byte, error) {
	qrPNG, err := qrcode.Encode(t.Payload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("ticket: qr code: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "CampusCoin Event Ticket")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 12)
	lines := []string{
		"Event: " + t.Title,
		"Date: " + t.Date,
		fmt.Sprintf("Time: %s - %s", t.Start, t.End),
		"Location: " + t.Location,
		"Name: " + t.Name,
		"Email: " + t.Email,
	}
	for _, line := range lines {
		pdf.Cell(0, 10, line)
		pdf.Ln(8)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 40, 40, 40, false, opts, 0, "")

	return output(pdf)
}

type Receipt struct {
	OrderID  string
	Buyer    string
	Product  string
	Quantity int
	Total    string
	TxHash   string
	PaidAt   time.Time
}

func (r Receipt) PDF() ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "CampusCoin Receipt")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 12)
	rows := [][2]string{
		{"Order", r.OrderID},
		{"Buyer", r.Buyer},
		{"Product", r.Product},
		{"Quantity", strconv.Itoa(r.Quantity)},
		{"Total", r.Total + " CC"},
		{"Paid at", r.PaidAt.UTC().Format(time.RFC3339)},
	}
	for _, row := range rows {
		pdf.CellFormat(40, 8, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(140, 8, row[1], "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
	pdf.SetFont("Courier", "", 8)
	pdf.Cell(0, 8, "Tx: "+r.TxHash)

	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("ticket: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
