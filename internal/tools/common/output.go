package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	removeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	reviveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// CIResult is the single JSON line emitted by tools running with --ci.
type CIResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func PrintCIResult(ok bool, title string, details []string, err error) {
	WriteCIResult(os.Stdout, ok, title, details, err)
}

func WriteCIResult(w io.Writer, ok bool, title string, details []string, err error) {
	res := CIResult{OK: ok, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	b, _ := json.Marshal(res)
	_, _ = fmt.Fprintln(w, string(b))
}

// PlanDetails flattens a reconcile plan into one line per change, sorted by
// permission code within each group.
func PlanDetails(plan service.ReconcilePlan) []string {
	var out []string
	add := func(prefix string, codes []string) {
		sort.Strings(codes)
		for _, c := range codes {
			out = append(out, prefix+" "+c)
		}
	}
	add("create", permissionCodes(plan.Create))
	add("reactivate", permissionCodes(plan.Reactivate))
	add("deactivate", permissionCodes(plan.Deactivate))
	for _, d := range plan.Duplicates {
		out = append(out, fmt.Sprintf("duplicate %s kept=%s ignored=%s", d.Code, d.Kept, d.Ignored))
	}
	out = append(out, fmt.Sprintf("unchanged %d", plan.Unchanged))
	return out
}

// RenderPlan formats a reconcile plan for terminal output.
func RenderPlan(plan service.ReconcilePlan) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Permission catalog plan") + "\n")
	if plan.Empty() {
		b.WriteString(mutedStyle.Render("  no changes") + "\n")
	}
	for _, line := range PlanDetails(plan) {
		kind, _, _ := strings.Cut(line, " ")
		style := mutedStyle
		switch kind {
		case "create":
			style = addStyle
		case "deactivate":
			style = removeStyle
		case "reactivate", "duplicate":
			style = reviveStyle
		}
		b.WriteString("  " + style.Render(line) + "\n")
	}
	return b.String()
}

func permissionCodes(perms []domain.Permission) []string {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}
	return codes
}
