// Package ticketpdf renders a booked ticket as a one-page A4 PDF.
package ticketpdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/phpdave11/gofpdf"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
)

// Render returns the PDF bytes and a download file name.
func Render(d booking.TicketDetail) ([]byte, string, error) {
	r := d.Receipt
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+r.TicketNumber, false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	status := "UNPAID"
	switch {
	case r.IsCancelled:
		status = "CANCELLED"
	case r.IsPaid:
		status = "PAID"
	}

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Ticket number  : %s", r.TicketNumber),
		fmt.Sprintf("Status         : %s", status),
		fmt.Sprintf("Passenger      : %s", safe(r.PassengerName, "-")),
		fmt.Sprintf("Phone          : %s", safe(r.PassengerPhone, "-")),
		fmt.Sprintf("Trip           : %s", safe(r.Trip.Name, "-")),
		fmt.Sprintf("Route          : %s -> %s", safe(r.Trip.From, "-"), safe(r.Trip.To, "-")),
		fmt.Sprintf("Date           : %s (%s)", r.Trip.Date, safe(r.Trip.DateLocal, "-")),
		fmt.Sprintf("Departure      : %s", safe(r.Trip.DepartureTime, "-")),
		fmt.Sprintf("Bus            : %s %s", safe(d.Trip.Bus.Name, "-"), d.Trip.Bus.PlateNumber),
		fmt.Sprintf("Seats          : %s", safe(strings.Join(r.Seats, ", "), "-")),
		fmt.Sprintf("Price per seat : %s", formatAmount(r.PricePerSeat)),
		fmt.Sprintf("Payment        : %s", r.PaymentMethod),
	}
	for _, s := range lines {
		pdf.Cell(0, 7, tr(s))
		pdf.Ln(7)
	}

	pdf.Ln(3)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Total: "+formatAmount(r.TotalPrice))
	pdf.Ln(12)

	if !r.IsPaid && !r.IsCancelled && r.PaymentDeadline != nil {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 6, "Pay before "+r.PaymentDeadline.UTC().Format("2006-01-02 15:04 MST")+
			" or the seats may be released.", "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("TICKET_%s.pdf", r.TicketNumber), nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

// formatAmount groups thousands with commas.
func formatAmount(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var out []byte
	n := len(s)
	for i := 0; i < n; i++ {
		out = append(out, s[i])
		pos := n - i - 1
		if pos > 0 && pos%3 == 0 {
			out = append(out, ',')
		}
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
