package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// deliver sends webhook notifications for a to all configured targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"trail_id", a.TrailID,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"state", a.State,
			)
		}
	}
}

// fact is one labelled value of a trail alert, rendered as a Slack
// attachment field or a Teams card fact.
type fact struct {
	name, value string
}

func trailFacts(a *Alert) []fact {
	facts := []fact{
		{"Trail", a.TrailID},
		{"Moisture", fmt.Sprintf("%.1f", a.Moisture)},
		{"Condition", a.Condition},
	}
	if a.Battery != nil {
		facts = append(facts, fact{"Battery", fmt.Sprintf("%.0f%%", *a.Battery)})
	}
	if a.Offline {
		facts = append(facts, fact{"Sensor", "offline"})
	}
	return facts
}

func alertTitle(a *Alert) string {
	return fmt.Sprintf("Trail %s: %s %s", a.TrailID, a.RuleName, stateLabel(a.State))
}

func (e *Engine) sendSlack(url string, a *Alert) error {
	fields := make([]map[string]interface{}, 0, 5)
	for _, f := range trailFacts(a) {
		fields = append(fields, map[string]interface{}{"title": f.name, "value": f.value, "short": true})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), alertTitle(a)),
		"attachments": []map[string]interface{}{{
			"color":  "#" + severityColor(a.Severity),
			"text":   a.Message,
			"fields": fields,
		}},
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alert) error {
	facts := make([]map[string]string, 0, 5)
	for _, f := range trailFacts(a) {
		facts = append(facts, map[string]string{"name": f.name, "value": f.value})
	}
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    alertTitle(a),
		"title":      alertTitle(a),
		"sections": []map[string]interface{}{{
			"text":  a.Message,
			"facts": facts,
		}},
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func stateLabel(s string) string {
	if s == "resolved" {
		return "(resolved)"
	}
	return "(firing)"
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
