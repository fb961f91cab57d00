package alert

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"safetybuddy/internal/store"
)

const (
	Subject  = "SafetyBuddy SOS Alert"
	Preamble = "SOS ALERT: possible emergency detected."
)

func MapLink(loc *Location) string {
	if loc == nil {
		return ""
	}
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", loc.Latitude, loc.Longitude)
}

func studentLabel(s *store.Student) string {
	if s == nil {
		return "Unknown"
	}
	name, email := strings.TrimSpace(s.Name), strings.TrimSpace(s.Email)
	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s (%s)", name, email)
	case name != "":
		return name
	case email != "":
		return email
	default:
		return "Unknown"
	}
}

type line struct {
	label string
	value string
}

func lines(req Request, contact string) []line {
	out := []line{{"Student", studentLabel(req.Student)}}
	if link := MapLink(req.Location); link != "" {
		out = append(out, line{"Location", link})
	}
	return append(out,
		line{"Transcript", strings.TrimSpace(req.Transcript)},
		line{"Risk Score", strconv.Itoa(req.RiskScore)},
		line{"Contact", contact},
	)
}

// composeText builds the single-line body used for SMS, WhatsApp and the
// plain text part of the email.
func composeText(req Request, contact string) string {
	parts := []string{Preamble}
	for _, l := range lines(req, contact) {
		parts = append(parts, l.label+": "+l.value)
	}
	return strings.Join(parts, " | ")
}

func composeHTML(req Request, contact string) string {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(Preamble))
	b.WriteString("</h2>\n<ul>\n")
	for _, l := range lines(req, contact) {
		value := html.EscapeString(l.value)
		if l.label == "Location" {
			value = fmt.Sprintf(`<a href="%s">%s</a>`, value, value)
		}
		fmt.Fprintf(&b, "<li><strong>%s:</strong> %s</li>\n", html.EscapeString(l.label), value)
	}
	b.WriteString("</ul>\n")
	return b.String()
}
