package ticket

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	s := NewSigner("secret")
	issued := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	payload := s.Payload(Pass{EventID: "e1", UserID: "u1", IssuedAt: issued})
	pass, err := s.Verify(payload)
	require.NoError(t, err)
	assert.Equal(t, Pass{EventID: "e1", UserID: "u1", IssuedAt: issued}, pass)
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner("secret")
	payload := s.Payload(Pass{EventID: "e1", UserID: "u1", IssuedAt: time.Now()})

	_, err := s.Verify("e1|u2" + payload[len("e1|u1"):])
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NewSigner("other").Verify(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = s.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPDFs(t *testing.T) {
	ticketPDF, err := EventTicket{Title: "Hackathon", Date: "2025-03-01", Start: "9:00 AM", End: "5:00 PM", Payload: "e1|u1|0|sig"}.PDF()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(ticketPDF, []byte("%PDF")))

	receiptPDF, err := Receipt{OrderID: "o1", Product: "Mug", Quantity: 2, Total: "10", TxHash: "0xabc", PaidAt: time.Now()}.PDF()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(receiptPDF, []byte("%PDF")))
}
