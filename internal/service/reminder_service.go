package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"reminder-engine/internal/model"
)

type activityText struct {
	icon  string
	label string
}

var activityTexts = map[model.ActivityKind]activityText{
	model.ActivityFeeding:  {"🍼", "feeding"},
	model.ActivitySleep:    {"😴", "sleep"},
	model.ActivityDiaper:   {"🧷", "diaper change"},
	model.ActivityPumping:  {"🥛", "pumping"},
	model.ActivityMedicine: {"💊", "medicine"},
	model.ActivityBath:     {"🛁", "bath"},
}

func textFor(kind model.ActivityKind) activityText {
	if t, ok := activityTexts[kind]; ok {
		return t
	}
	label := strings.TrimSpace(string(kind))
	if label == "" || kind == model.ActivityOther {
		label = "activity"
	}
	return activityText{icon: "🔔", label: label}
}

// ReminderText returns the title and body for a firing rule. Rule overrides
// win; otherwise the text is derived from the activity kind. since is the
// last activity instant for interval rules and zero for time rules.
func ReminderText(rule model.Rule, now, since time.Time) (string, string) {
	t := textFor(rule.ActivityKind)

	title := strings.TrimSpace(rule.Title)
	if title == "" {
		title = fmt.Sprintf("%s %s reminder", t.icon, capitalize(t.label))
	}

	message := strings.TrimSpace(rule.Message)
	if message == "" {
		if since.IsZero() {
			message = fmt.Sprintf("It's time for %s.", t.label)
		} else {
			message = fmt.Sprintf("It has been %s since the last %s.", humanizeSince(now.Sub(since)), t.label)
		}
	}
	return title, message
}

// FormatChatMessage renders the chat-channel HTML: bold title, blank line, body.
func FormatChatMessage(title, message string) string {
	var sb strings.Builder
	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(strings.TrimSpace(title)))
	sb.WriteString("</b>")
	if body := strings.TrimSpace(message); body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(html.EscapeString(body))
	}
	return sb.String()
}

func humanizeSince(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	d = d.Truncate(time.Minute)
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours == 0:
		return fmt.Sprintf("%d min", minutes)
	case minutes == 0:
		return fmt.Sprintf("%d h", hours)
	default:
		return fmt.Sprintf("%d h %d min", hours, minutes)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
