package domain

import "fmt"

type Severity int

const (
	SeveritySuccess Severity = iota
	SeverityInfo
	SeverityWarning
)

// Notification titles shown to the shopper.
const (
	TitleProductAdded   = "Product added: %s"
	TitleCartUpdated    = "Cart updated: %s"
	TitleProductRemoved = "Product removed from cart"
	TitleCartCleared    = "Cart cleared"
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*s = SeveritySuccess
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Notification is a request to show a transient message. Producing one has no side
// effect; a dispatcher decides how it reaches the shopper.
type Notification struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
}

func ProductAdded(name string) Notification {
	return Notification{Severity: SeveritySuccess, Title: fmt.Sprintf(TitleProductAdded, name)}
}

func CartUpdated(name string) Notification {
	return Notification{Severity: SeveritySuccess, Title: fmt.Sprintf(TitleCartUpdated, name)}
}

func ProductRemoved() Notification {
	return Notification{Severity: SeverityInfo, Title: TitleProductRemoved}
}

func CartCleared() Notification {
	return Notification{Severity: SeverityWarning, Title: TitleCartCleared}
}
