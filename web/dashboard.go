package web

import (
	"fmt"

	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"planscheduler/db"
)

// planDashboardHandler renders a plan's status as a server-side HTML page
func planDashboardHandler(c rweb.Context) error {
	planID := c.Request().Param("id")
	if planID == "" {
		return c.WriteError(serr.New("plan ID required"), 400)
	}

	database, err := db.GetDB()
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to get database"), 500)
	}

	view, err := database.GetPlanWithSpecs(planID)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to fetch plan"), 500)
	}
	if view == nil {
		return c.WriteError(serr.New("plan not found"), 404)
	}

	return c.WriteHTML(generatePlanPage(view))
}

func generatePlanPage(view *db.PlanView) string {
	b := element.NewBuilder()

	currentSpec := "-"
	if view.CurrentSpecIndex != nil {
		currentSpec = fmt.Sprintf("%d", *view.CurrentSpecIndex)
	}

	b.Html().R(
		b.Head().R(
			b.Meta("charset", "UTF-8"),
			b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
			b.Title().T("Plan "+view.PlanID),
			b.Style().T(generateDashboardCSS()),
		),
		b.Body().R(
			b.Div("class", "container").R(
				b.H1().T("Plan "+view.PlanID),
				b.Div("class", "summary").R(
					b.Span("class", "badge status-"+view.OverallStatus).T(view.OverallStatus),
					b.Span("class", "counter").T(
						fmt.Sprintf("%d / %d specs completed", view.CompletedSpecs, view.TotalSpecs)),
					b.Span("class", "counter").T("current spec: "+currentSpec),
				),
				b.Div("class", "spec-list").R(
					func() any {
						for _, spec := range view.Specs {
							stage := spec.CurrentStage
							if stage == "" {
								stage = "-"
							}
							b.Div("class", "spec-row").R(
								b.Span("class", "spec-index").T(fmt.Sprintf("%d", spec.SpecIndex)),
								b.Span("class", "badge status-"+spec.Status).T(spec.Status),
								b.Span("class", "spec-stage").T(stage),
								b.Span("class", "spec-updated").T(spec.UpdatedAt.Format("2006-01-02 15:04:05 MST")),
							)
						}
						return nil
					}(),
				),
				b.P("class", "footer").T("last event: "+view.LastEventAt.Format("2006-01-02 15:04:05 MST")),
			),
		),
	)

	return b.String()
}

func generateDashboardCSS() string {
	return `
body { font-family: sans-serif; background: #f6f7f9; color: #222; margin: 0; }
.container { max-width: 760px; margin: 2rem auto; padding: 0 1rem; }
h1 { font-size: 1.3rem; word-break: break-all; }
.summary { margin-bottom: 1rem; }
.counter { margin-left: 1rem; color: #555; }
.spec-list { background: #fff; border: 1px solid #e3e5e8; border-radius: 4px; }
.spec-row { display: flex; gap: 1rem; align-items: center; padding: 0.5rem 0.75rem; border-bottom: 1px solid #e3e5e8; }
.spec-row:last-child { border-bottom: none; }
.spec-index { width: 2rem; color: #555; }
.spec-stage { flex: 1; }
.spec-updated { color: #777; font-size: 0.85rem; }
.badge { padding: 0.15rem 0.5rem; border-radius: 3px; font-size: 0.85rem; }
.status-running { background: #dbeafe; color: #1d4ed8; }
.status-blocked { background: #f3f4f6; color: #6b7280; }
.status-finished { background: #dcfce7; color: #15803d; }
.status-failed { background: #fee2e2; color: #b91c1c; }
.footer { color: #777; font-size: 0.85rem; }
`
}
