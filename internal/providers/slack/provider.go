package slack

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Disabled so callers can leave slack off the
// delivered channels instead of logging a failure.
var ErrDisabled = errors.New("slack_disabled")

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message is one ledger alert. Title becomes the post headline and Text the
// attachment body, coloured by Severity.
type Message struct {
	Channel  string
	Title    string
	Text     string
	Severity Severity
}

func (m Message) color() string {
	if m.Severity == SeverityCritical {
		return "danger"
	}
	return "warning"
}

type Provider interface {
	Post(ctx context.Context, msg Message) error
}

// Disabled stands in when no webhook URL is configured.
type Disabled struct{}

func (Disabled) Post(context.Context, Message) error {
	return ErrDisabled
}
