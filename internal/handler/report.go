package handler

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/beevik/etree"
)

// PortfolioReport renders the portfolio overview as an XML document
func (h *Handler) PortfolioReport(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Portfolio(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	doc := buildReport(p, h.now())
	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func buildReport(p health.Portfolio, generated time.Time) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("portfolio")
	root.CreateAttr("generated", generated.UTC().Format(time.RFC3339))
	root.CreateAttr("accounts", strconv.Itoa(p.Accounts))

	totals := root.CreateElement("totals")
	totals.CreateAttr("total_commits", p.Totals.TotalCommits.String())
	totals.CreateAttr("remaining_balance", p.Totals.RemainingBalance.String())
	totals.CreateAttr("burned_amount", p.Totals.BurnedAmount.String())
	totals.CreateAttr("actual_burn_rate", formatPercent(p.Totals.ActualBurnPercent))

	statuses := make([]string, 0, len(p.ByStatus))
	for s := range p.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	byStatus := root.CreateElement("by_status")
	for _, s := range statuses {
		el := byStatus.CreateElement("status")
		el.CreateAttr("name", s)
		el.CreateAttr("count", strconv.Itoa(p.ByStatus[health.Status(s)]))
	}

	root.CreateElement("at_risk_revenue").SetText(p.AtRiskRevenue.String())

	attention := root.CreateElement("needs_attention")
	for _, a := range p.NeedsAttention {
		el := attention.CreateElement("account")
		el.CreateAttr("id", a.CustomerID)
		el.CreateAttr("name", a.CustomerName)
		el.CreateAttr("status", string(a.Status))
		el.CreateAttr("actual_burn_rate", formatPercent(a.ActualBurnPercent))
		el.CreateAttr("remaining_balance", a.RemainingBalance.String())
		el.CreateAttr("days_remaining", strconv.Itoa(a.DaysRemaining))
	}
	return doc
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}
