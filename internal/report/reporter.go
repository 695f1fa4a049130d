package report

import (
	"context"
	"fmt"

	"github.com/ignite/inboxbench/internal/pkg/logger"
)

// Reporter renders a summary, archives it and sends it to every notifier.
type Reporter struct {
	renderer  *Renderer
	archive   Archive
	notifiers []Notifier
}

// NewReporter creates a reporter. archive may be nil.
func NewReporter(renderer *Renderer, archive Archive, notifiers ...Notifier) *Reporter {
	return &Reporter{renderer: renderer, archive: archive, notifiers: notifiers}
}

// Publish delivers the report. Delivery failures are logged and returned;
// one failing channel does not stop the others.
func (r *Reporter) Publish(ctx context.Context, s Summary) (string, []error) {
	html, err := r.renderer.HTML(s)
	if err != nil {
		return "", []error{err}
	}

	var errs []error
	if r.archive != nil {
		if err := r.archive.Save(ctx, s.Workspace, html, s.GeneratedAt); err != nil {
			logger.Error("archiving report failed", "workspace", s.Workspace, "error", err)
			errs = append(errs, err)
		}
	}
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, s, html); err != nil {
			logger.Error("report delivery failed", "channel", n.Name(), "workspace", s.Workspace, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		logger.Info("report delivered", "channel", n.Name(), "workspace", s.Workspace)
	}
	return html, errs
}
