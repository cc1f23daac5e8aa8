package dashboard

import (
	"fmt"
	"strings"

	"allotment/internal/changes"
	"allotment/internal/reminders"
)

func reminderMessage(a reminders.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder: %s in ~%d min at %s", a.PatientName, a.MinutesLeft, a.InDisplay)
	if a.Doctor != "" {
		fmt.Fprintf(&b, " with %s", a.Doctor)
	}
	if a.Chair != "" {
		fmt.Fprintf(&b, " (%s)", a.Chair)
	}
	return b.String()
}

func ongoingMessage(e changes.Entry) string {
	msg := "Now ongoing: " + e.Name + describe(e)
	if e.Chair != "" {
		msg += fmt.Sprintf(" (%s)", e.Chair)
	}
	return msg
}

func upcomingMessage(e changes.Entry) string {
	return fmt.Sprintf("Upcoming in ~%d min: %s%s", e.MinutesLeft, e.Name, describe(e))
}

func arrivedMessage(e changes.Entry) string {
	msg := "Patient arrived: " + e.Name
	if e.Procedure != "" {
		msg += ", " + e.Procedure
	}
	return msg
}

func describe(e changes.Entry) string {
	var s string
	if e.Procedure != "" {
		s += ", " + e.Procedure
	}
	if e.Doctor != "" {
		s += " with " + e.Doctor
	}
	return s
}
