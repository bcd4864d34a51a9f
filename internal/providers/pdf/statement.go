package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a pre-formatted payout statement. Amounts and dates are
// rendered as given.
type StatementData struct {
	ProgramName    string
	PayoutID       string
	BatchID        string
	Status         string
	PaymentMethod  string
	TransferID     string
	Reference      string
	Period         string
	CreatedDate    string
	PaidDate       string
	AffiliateName  string
	AffiliateEmail string
	ReferralCode   string

	Lines []StatementLine

	Total string
}

type StatementLine struct {
	ReferralID string
	OrderID    string
	ApprovedOn string
	Amount     string
}

var ErrMissingPayoutID = errors.New("statement payout id is required")

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GeneratePayoutStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	if data.PayoutID == "" {
		return nil, ErrMissingPayoutID
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	title := "Payout statement"
	if data.ProgramName != "" {
		title = data.ProgramName + " payout statement"
	}
	m.AddRow(15,
		text.NewCol(12, title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Payout: "+data.PayoutID, props.Text{Top: 0}),
			text.New("Batch: "+data.BatchID, props.Text{Top: 4}),
			text.New("Period: "+data.Period, props.Text{Top: 8}),
			text.New("Status: "+data.Status, props.Text{Top: 12}),
			text.New("Created: "+data.CreatedDate, props.Text{Top: 16}),
			text.New("Paid: "+data.PaidDate, props.Text{Top: 20}),
		),
		col.New(6).Add(
			text.New("Paid to", props.Text{Style: fontstyle.Bold}),
			text.New(data.AffiliateName, props.Text{Top: 5}),
			text.New(data.AffiliateEmail, props.Text{Top: 9}),
			text.New("Referral code: "+data.ReferralCode, props.Text{Top: 13}),
		),
	)

	m.AddRow(15,
		col.New(6).Add(
			text.New("Method: "+data.PaymentMethod, props.Text{Size: 9}),
			text.New("Transfer: "+data.TransferID, props.Text{Size: 9, Top: 4}),
		),
		col.New(6).Add(
			text.New("Reference: "+data.Reference, props.Text{Size: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(4, "Referral", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Order", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Approved", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Commission", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(4, line.ReferralID, props.Text{Size: 9}),
			text.NewCol(3, line.OrderID, props.Text{Size: 9}),
			text.NewCol(3, line.ApprovedOn, props.Text{Size: 9}),
			text.NewCol(2, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, data.Total, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
