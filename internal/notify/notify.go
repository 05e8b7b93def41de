// Package notify tells the operator that a run has finished.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference

	// Run details, rendered as fields where the channel supports them
	Phase    domain.PhaseName // Phase the run stopped in; empty on success
	ExitCode int
	Attempts int    // Test phase invocations, including auto-fix attempts
	Usage    string // Duration, token and cost summary
	RunDir   string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// RunReport is what is known about a run once it has finished
type RunReport struct {
	ExitCode    int
	FailedPhase domain.PhaseName
	Reason      string // Failure banner; empty on success
	Attempts    int
	Usage       string
}

// ForRun builds the notification for a finished run
func ForRun(run *domain.Run, rep RunReport) Notification {
	n := Notification{
		RunID:    run.RunID,
		Message:  rep.Usage,
		ExitCode: rep.ExitCode,
		Attempts: rep.Attempts,
		Usage:    rep.Usage,
		RunDir:   run.RunDir(),
	}
	switch run.State {
	case domain.StateSucceeded:
		n.Type = NotifySuccess
		n.Title = "Run succeeded"
	case domain.StateInterrupted:
		n.Type = NotifyWarning
		n.Title = "Run interrupted"
		n.Phase = rep.FailedPhase
	default:
		n.Type = NotifyError
		n.Title = fmt.Sprintf("Run failed (exit %d)", rep.ExitCode)
		n.Phase = rep.FailedPhase
	}
	if rep.Reason != "" && n.Type != NotifySuccess {
		n.Message = rep.Reason
	}
	if run.RunID != "" {
		n.Title += " · " + run.RunID
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
