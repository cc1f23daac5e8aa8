package models

import "strings"

// Status is the manual tracking state of an appointment.
type Status string

const (
	StatusUnknown   Status = ""
	StatusWaiting   Status = "WAITING"
	StatusArrived   Status = "ARRIVED"
	StatusOngoing   Status = "ON GOING"
	StatusCancelled Status = "CANCELLED"
	StatusShifted   Status = "SHIFTED"
	StatusDone      Status = "DONE"
)

// Statuses lists the known statuses in display order.
var Statuses = []Status{
	StatusWaiting, StatusArrived, StatusOngoing, StatusCancelled, StatusShifted, StatusDone,
}

// ParseStatus maps stored text to a Status, case-insensitively.
// Unrecognised text yields StatusUnknown.
func ParseStatus(s string) Status {
	norm := strings.Join(strings.Fields(strings.ToUpper(s)), " ")
	switch norm {
	case "WAITING":
		return StatusWaiting
	case "ARRIVED":
		return StatusArrived
	case "ON GOING", "ONGOING", "ON-GOING":
		return StatusOngoing
	case "CANCELLED", "CANCELED":
		return StatusCancelled
	case "SHIFTED":
		return StatusShifted
	case "DONE":
		return StatusDone
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	return string(s)
}

// Closed reports statuses that take the row out of the ongoing view.
func (s Status) Closed() bool {
	switch s {
	case StatusCancelled, StatusDone, StatusShifted:
		return true
	}
	return false
}

// SuppressesReminder reports statuses for which no reminder should fire.
func (s Status) SuppressesReminder() bool {
	return s.Closed() || s == StatusArrived || s == StatusOngoing
}
