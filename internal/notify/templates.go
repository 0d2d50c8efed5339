package notify

import (
	"strconv"
	"strings"
)

const (
	TemplateJoined = "joined"
	TemplateCalled = "called"
)

// Vars fills the placeholders of a message template.
type Vars struct {
	TicketNumber int
	QueueName    string
	ETAMinutes   int
	StatusURL    string
}

func defaultTemplate(templateID, channel string) string {
	switch templateID {
	case TemplateJoined:
		if channel == "email" {
			return "You joined {queue_name} with ticket #{ticket_number}. Estimated wait: {eta_minutes} min. Track your place: {status_url}"
		}
		return "Ticket #{ticket_number} for {queue_name}. About {eta_minutes} min. {status_url}"
	case TemplateCalled:
		if channel == "email" {
			return "Ticket #{ticket_number} at {queue_name}: it's your turn, please head to the host stand. {status_url}"
		}
		return "Ticket #{ticket_number}: your table at {queue_name} is ready. {status_url}"
	}
	return ""
}

func renderTemplate(template string, vars Vars) string {
	result := template
	result = strings.ReplaceAll(result, "{ticket_number}", strconv.Itoa(vars.TicketNumber))
	result = strings.ReplaceAll(result, "{queue_name}", vars.QueueName)
	result = strings.ReplaceAll(result, "{eta_minutes}", strconv.Itoa(vars.ETAMinutes))
	result = strings.ReplaceAll(result, "{status_url}", vars.StatusURL)
	return strings.TrimSpace(result)
}
