package service

import (
	"fmt"
	"strings"
	"time"

	"bookmyenv/internal/model"
)

// Content is the subject/body pair shared by every channel for one event.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Extra carries optional event details such as approval notes or an error
// message. Missing keys render a fallback literal.
type Extra map[string]any

// Keys understood by the templates.
const (
	ExtraApprovalNotes   = "approval_notes"
	ExtraRejectionReason = "rejection_reason"
	ExtraDuration        = "duration"
	ExtraDataVolume      = "data_volume"
	ExtraErrorMessage    = "error_message"
	ExtraBookingOwner    = "booking_owner"
	ExtraBookingName     = "booking_name"
	ExtraResolution      = "resolution"
)

// get returns the stringified value for key, or fallback when the key is
// absent or empty.
func (e Extra) get(key, fallback string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return fallback
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return fallback
	}
	return s
}

// templateData is what every template function sees.
type templateData struct {
	intent *model.RefreshIntent
	label  string
	date   string
	extra  Extra
}

type templateFunc func(d templateData) Content

// ContentBuilder renders notification content. It performs no I/O.
type ContentBuilder struct {
	location   *time.Location
	dateLayout string
	templates  map[model.EventType]templateFunc
}

// NewContentBuilder creates a builder that formats planned dates with layout
// in loc.
func NewContentBuilder(loc *time.Location, layout string) *ContentBuilder {
	if loc == nil {
		loc = time.Local
	}
	if layout == "" {
		layout = "Jan 2, 2006 15:04"
	}
	return &ContentBuilder{
		location:   loc,
		dateLayout: layout,
		templates:  defaultTemplates(),
	}
}

// Build renders the content for event. Unknown events get a generic message
// that still names the event and the entity.
func (b *ContentBuilder) Build(intent *model.RefreshIntent, event model.EventType, extra Extra) Content {
	if extra == nil {
		extra = Extra{}
	}
	d := templateData{
		intent: intent,
		label:  intent.EntityLabel(),
		date:   b.formatDate(intent.PlannedDate),
		extra:  extra,
	}

	tmpl, ok := b.templates[event]
	if !ok {
		return Content{
			Subject: fmt.Sprintf("Refresh Notification: %s - %s", event, d.label),
			Body: fmt.Sprintf("A refresh event (%s) occurred for %s.\n\nStatus: %s\nPlanned Date: %s",
				event, d.label, intent.Status, d.date),
		}
	}
	return tmpl(d)
}

func (b *ContentBuilder) formatDate(t *time.Time) string {
	if t == nil {
		return "Not scheduled"
	}
	return t.In(b.location).Format(b.dateLayout)
}

func defaultTemplates() map[model.EventType]templateFunc {
	return map[model.EventType]templateFunc{
		model.EventRefreshRequested: func(d templateData) Content {
			return Content{
				Subject: "Refresh Requested: " + d.label,
				Body: fmt.Sprintf("A %s refresh has been requested for %s.\n\n"+
					"Planned Date: %s\nRequested By: %s\nSource: %s\nDowntime: %s\nReason: %s",
					d.intent.RefreshType, d.label, d.date, requesterName(d.intent),
					orDefault(d.intent.SourceEnvironment, "N/A"), downtime(d.intent),
					orDefault(d.intent.Reason, "N/A")),
			}
		},
		model.EventRefreshApproved: func(d templateData) Content {
			return Content{
				Subject: "Refresh Approved: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s has been approved.\n\n"+
					"Planned Date: %s\nApproval Notes: %s",
					d.intent.RefreshType, d.label, d.date, d.extra.get(ExtraApprovalNotes, "None")),
			}
		},
		model.EventRefreshRejected: func(d templateData) Content {
			return Content{
				Subject: "Refresh Rejected: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s has been rejected.\n\nReason: %s",
					d.intent.RefreshType, d.label, d.extra.get(ExtraRejectionReason, "N/A")),
			}
		},
		model.EventRefreshScheduled: func(d templateData) Content {
			return Content{
				Subject: "Refresh Scheduled: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s is scheduled for %s.\n\n"+
					"Source: %s\nDowntime: %s",
					d.intent.RefreshType, d.label, d.date,
					orDefault(d.intent.SourceEnvironment, "N/A"), downtime(d.intent)),
			}
		},
		model.EventRefreshReminder7Days: reminderTemplate("7 days"),
		model.EventRefreshReminder1Day:  reminderTemplate("1 day"),
		model.EventRefreshReminder1Hour: reminderTemplate("1 hour"),
		model.EventRefreshStarting: func(d templateData) Content {
			return Content{
				Subject: "Refresh Starting: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s is starting now.\n\n"+
					"Source: %s\nDowntime: %s",
					d.intent.RefreshType, d.label,
					orDefault(d.intent.SourceEnvironment, "N/A"), downtime(d.intent)),
			}
		},
		model.EventRefreshCompleted: func(d templateData) Content {
			return Content{
				Subject: "Refresh Completed: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s completed successfully.\n\n"+
					"Duration: %s\nData Volume: %s",
					d.intent.RefreshType, d.label,
					d.extra.get(ExtraDuration, "N/A"), d.extra.get(ExtraDataVolume, "N/A")),
			}
		},
		model.EventRefreshFailed: func(d templateData) Content {
			return Content{
				Subject: "Refresh Failed: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s has failed.\n\nError: %s",
					d.intent.RefreshType, d.label, d.extra.get(ExtraErrorMessage, "Unknown error")),
			}
		},
		model.EventRefreshConflictDetected: func(d templateData) Content {
			return Content{
				Subject: "Booking Conflict Detected: " + d.label,
				Body: fmt.Sprintf("The %s refresh for %s planned for %s conflicts with an existing booking.\n\n"+
					"Booking: %s\nBooking Owner: %s",
					d.intent.RefreshType, d.label, d.date,
					d.extra.get(ExtraBookingName, "N/A"), d.extra.get(ExtraBookingOwner, "N/A")),
			}
		},
		model.EventRefreshConflictResolved: func(d templateData) Content {
			return Content{
				Subject: "Booking Conflict Resolved: " + d.label,
				Body: fmt.Sprintf("The booking conflict for the %s refresh of %s has been resolved.\n\nResolution: %s",
					d.intent.RefreshType, d.label, d.extra.get(ExtraResolution, "None")),
			}
		},
	}
}

func reminderTemplate(lead string) templateFunc {
	return func(d templateData) Content {
		return Content{
			Subject: fmt.Sprintf("Reminder: Refresh in %s - %s", lead, d.label),
			Body: fmt.Sprintf("Reminder: the %s refresh for %s is planned in %s.\n\n"+
				"Planned Date: %s\nSource: %s\nDowntime: %s",
				d.intent.RefreshType, d.label, lead, d.date,
				orDefault(d.intent.SourceEnvironment, "N/A"), downtime(d.intent)),
		}
	}
}

func requesterName(intent *model.RefreshIntent) string {
	if intent.Requester == nil {
		return "Unknown"
	}
	if intent.Requester.DisplayName != "" {
		return intent.Requester.DisplayName
	}
	return intent.Requester.Username
}

func downtime(intent *model.RefreshIntent) string {
	if !intent.RequiresDowntime {
		return "No"
	}
	if intent.DowntimeMinutes > 0 {
		return fmt.Sprintf("Yes (~%d minutes)", intent.DowntimeMinutes)
	}
	return "Yes"
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
