package report

import (
	"fmt"

	"github.com/osteele/liquid"
)

const htmlTemplate = `<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #333;">
  <div style="border-bottom: 2px solid #333; padding-bottom: 10px; margin-bottom: 20px;">
    <h2 style="margin: 0;">Inbox Bench Report: {{ instance | escape }}</h2>
    {% if dashboard_url != "" %}<p style="margin-top: 5px;"><a href="{{ dashboard_url | escape }}">Open {{ instance | escape }} Dashboard</a></p>{% endif %}
  </div>

  <table style="width: 100%; border-collapse: collapse; margin-bottom: 20px; border: 1px solid #ddd;">
    <tr style="background-color: #f9f9f9; text-align: center;">
      <th style="padding: 10px; border: 1px solid #ddd;">Total</th>
      <th style="padding: 10px; border: 1px solid #ddd;">{{ headers.warming | escape }}</th>
      <th style="padding: 10px; border: 1px solid #ddd;">{{ headers.sick | escape }}</th>
      <th style="padding: 10px; border: 1px solid #ddd;">{{ headers.bench }}</th>
      <th style="padding: 10px; border: 1px solid #ddd;">{{ headers.sending }}</th>
    </tr>
    <tr style="text-align: center; font-size: 18px; font-weight: bold;">
      <td style="padding: 15px; border: 1px solid #ddd;">{{ stats.total }}</td>
      <td style="padding: 15px; border: 1px solid #ddd; color: #f0ad4e;">{{ stats.warming }}</td>
      <td style="padding: 15px; border: 1px solid #ddd; color: #d9534f;">{{ stats.sick }}</td>
      <td style="padding: 15px; border: 1px solid #ddd; color: #5bc0de;">{{ stats.bench }}</td>
      <td style="padding: 15px; border: 1px solid #ddd; color: #5cb85c;">{{ stats.sending }}</td>
    </tr>
  </table>

  <p><strong>Status:</strong> {{ status }}</p>
  <p><strong>Summary:</strong> Processed {{ stats.total }} accounts. Optimized {{ stats.sending }} senders. {{ execution }}.</p>
  {% if stats.excluded > 0 %}<p><strong>Skipped:</strong> {{ stats.excluded }} accounts with incomplete data.</p>{% endif %}
  {% if campaign %}<p><strong>Campaigns:</strong> +{{ campaign.added }} added, -{{ campaign.removed }} removed{% if campaign.failed > 0 %}, {{ campaign.failed }} failed{% endif %}{% if campaign.skipped %} (skipped: {{ campaign.skip_reason | escape }}){% endif %}</p>{% endif %}
  <p><strong>Sending Volume:</strong> {% if volume.known %}{{ volume.current }} ({{ volume.signed }}){% else %}N/A{% endif %}</p>
  {% if sync %}<p><strong>Snapshot:</strong> {{ sync.written }} of {{ sync.total }} rows synced</p>{% endif %}
  {% if web_url != "" %}<p><a href="{{ web_url | escape }}">View Full Web Report</a></p>{% endif %}
  {% if errors.size > 0 %}<h3 style="color: #d9534f;">Errors:</h3><ul>{% for e in errors %}<li>{{ e | escape }}</li>{% endfor %}</ul>{% endif %}

  <h3 style="border-bottom: 1px solid #ccc; margin-top: 30px;">Logs:</h3>
  <div style="background-color: #f4f4f4; padding: 15px; border-radius: 5px; font-family: monospace; font-size: 12px; max-height: 400px; overflow-y: auto;">
    {% for a in actions %}<div style="color: {{ a.color }}; margin-bottom: 4px;">{{ a.icon }} [{{ a.type }}] {{ a.email | escape }} -&gt; {{ a.reason | escape }}{% if a.status != "applied" %} ({{ a.status }}){% endif %}{% if a.error != "" %}: {{ a.error | escape }}{% endif %}</div>
    {% endfor %}{% if actions.size == 0 %}<div>No actions needed. All accounts aligned.</div>{% endif %}
  </div>
  <p style="color: #999; font-size: 11px;">Run {{ run_id }} at {{ generated_at }}</p>
</body>
</html>
`

// Renderer renders summaries to HTML with a Liquid template.
type Renderer struct {
	tpl *liquid.Template
}

// NewRenderer parses the report template.
func NewRenderer() (*Renderer, error) {
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

// HTML renders the full report page.
func (r *Renderer) HTML(s Summary) (string, error) {
	out, err := r.tpl.RenderString(bindings(s))
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

func bindings(s Summary) map[string]interface{} {
	actions := make([]map[string]interface{}, 0, len(s.Execution.Outcomes))
	for _, l := range s.Lines() {
		actions = append(actions, map[string]interface{}{
			"icon":   l.Icon,
			"color":  l.Color,
			"type":   l.Type,
			"email":  l.Email,
			"reason": l.Reason,
			"status": l.Status,
			"error":  l.Error,
		})
	}
	headers := make(map[string]interface{})
	for k, v := range s.headers() {
		headers[k] = v
	}

	b := map[string]interface{}{
		"instance":      s.Instance,
		"workspace":     s.Workspace,
		"run_id":        s.RunID,
		"generated_at":  s.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"),
		"dashboard_url": s.DashboardURL,
		"web_url":       s.WebURL,
		"status":        s.Status(),
		"execution":     s.Execution.Summary(),
		"headers":       headers,
		"stats": map[string]interface{}{
			"total":    s.Stats.Total,
			"warming":  s.Stats.Warming,
			"sick":     s.Stats.Sick,
			"bench":    s.Stats.Bench,
			"sending":  s.Stats.Sending,
			"excluded": s.Stats.Excluded,
		},
		"volume": map[string]interface{}{
			"known":   s.Volume.Known,
			"current": s.Volume.Current,
			"signed":  s.Volume.Signed(),
		},
		"actions": actions,
		"errors":  append([]string{}, s.Errors...),
	}
	if s.Campaign != nil {
		b["campaign"] = map[string]interface{}{
			"added":       s.Campaign.Added,
			"removed":     s.Campaign.Removed,
			"failed":      s.Campaign.Failed,
			"skipped":     s.Campaign.Skipped,
			"skip_reason": s.Campaign.SkipReason,
		}
	}
	if s.Sync != nil {
		b["sync"] = map[string]interface{}{"written": s.Sync.Written, "total": s.Sync.Total}
	}
	return b
}
