package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"ghconf/pkg/reconcile"
)

// Output formats
const (
	outputText = "text"
	outputJSON = "json"
)

func validateOutput(format string) error {
	if format != outputText && format != outputJSON {
		return fmt.Errorf("invalid output format %q: must be one of %s, %s", format, outputText, outputJSON)
	}
	return nil
}

// displayPlan shows the planned changes in a human-readable format
func displayPlan(w io.Writer, org string, result *reconcile.RunResult, isDryRun bool) {
	if isDryRun {
		fmt.Fprintf(w, "\n🔍 Plan mode: Showing planned changes for %s\n", org)
	} else {
		fmt.Fprintf(w, "\n📋 Planned changes for %s:\n", org)
	}

	for _, oe := range result.ObservationErrors {
		fmt.Fprintf(w, "\n⚠️  %v (%s changes skipped)\n", oe, oe.Domain)
	}

	destructiveChanges := 0
	for _, cs := range result.Sets {
		fmt.Fprintf(w, "\n📦 %s (%s):\n", cs.Description, cs.Source)
		for _, c := range cs.Changes {
			if isDestructive(c) {
				destructiveChanges++
				fmt.Fprintf(w, "  ⚠️  %s (%s)\n", c, destructiveReason(c))
				continue
			}
			fmt.Fprintf(w, "  %s\n", c)
		}
	}

	if len(result.Unconfigured) > 0 {
		fmt.Fprintf(w, "\n❓ Repositories without a matching rule (%d): %s\n", len(result.Unconfigured), strings.Join(result.Unconfigured, ", "))
	}

	if result.Plan.Empty() {
		fmt.Fprintf(w, "\n✓ No changes needed - organization is up to date\n")
		return
	}

	total := result.Plan.Len()
	counts := result.Plan.Counts()
	fmt.Fprintf(w, "\n📊 Summary:")
	fmt.Fprintf(w, "\n  • Change sets: %d", len(result.Sets))
	fmt.Fprintf(w, "\n  • Total changes: %d (%d to add, %d to remove, %d to replace)", total, counts.Additions, counts.Removals, counts.Replacements)
	if destructiveChanges > 0 {
		fmt.Fprintf(w, "\n  • Potentially destructive changes: %d", destructiveChanges)
	}
	fmt.Fprintf(w, "\n")

	if destructiveChanges > 0 && isDryRun {
		fmt.Fprintf(w, "\n⚠️  WARNING: %d potentially destructive change(s) detected!\n", destructiveChanges)
		fmt.Fprintf(w, "   Review these changes carefully before applying.\n")
	}
}

// isDestructive reports whether a change removes access or weakens a grant
func isDestructive(c reconcile.Change) bool {
	switch c.Kind {
	case reconcile.KindRemove:
		return true
	case reconcile.KindReplace:
		return isPermissionDowngrade(c.Before, c.After)
	default:
		return false
	}
}

func destructiveReason(c reconcile.Change) string {
	if c.Kind == reconcile.KindRemove {
		return "REMOVING ACCESS"
	}
	return "REDUCING ACCESS"
}

// isPermissionDowngrade checks if the permission change is a downgrade
func isPermissionDowngrade(before, after string) bool {
	beforeLevel := reconcile.Permission(before).Rank()
	afterLevel := reconcile.Permission(after).Rank()

	// unknown values are not permissions
	if beforeLevel == 0 || afterLevel == 0 {
		return false
	}
	return beforeLevel > afterLevel
}

// displayReport shows the outcome of an executed plan
func displayReport(w io.Writer, org string, report *reconcile.ExecutionReport) {
	applied := report.Applied()
	failed := report.Failed()
	skipped := report.Skipped()

	if len(failed) > 0 || len(skipped) > 0 {
		fmt.Fprintf(w, "\n⚠️  Partial success: Applied %d of %d change(s) to %s\n", len(applied), len(report.Results), org)
	} else {
		fmt.Fprintf(w, "\n✅ Successfully applied %d change(s) to %s\n", len(applied), org)
	}

	if len(failed) > 0 {
		fmt.Fprintf(w, "\n❌ Failed changes:\n")
		for _, res := range failed {
			fmt.Fprintf(w, "  • %s\n", res.Reason())
		}
	}

	if len(skipped) > 0 {
		fmt.Fprintf(w, "\n⏭️  Skipped changes:\n")
		for _, res := range skipped {
			fmt.Fprintf(w, "  • %s: %s\n", res.Change.Description, res.Reason())
		}
	}

	fmt.Fprintf(w, "\n📊 Summary:\n")
	fmt.Fprintf(w, "  • Run: %s\n", report.RunID)
	fmt.Fprintf(w, "  • Applied: %d\n", len(applied))
	fmt.Fprintf(w, "  • Failed: %d\n", len(failed))
	fmt.Fprintf(w, "  • Skipped: %d\n", len(skipped))
	fmt.Fprintf(w, "  • Duration: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

type jsonChange struct {
	Kind        reconcile.ChangeKind `json:"kind"`
	Stage       string               `json:"stage"`
	Queue       string               `json:"queue"`
	Target      string               `json:"target"`
	Before      string               `json:"before,omitempty"`
	After       string               `json:"after,omitempty"`
	Description string               `json:"description"`
	Status      reconcile.Status     `json:"status"`
	Attempts    int                  `json:"attempts,omitempty"`
	Error       string               `json:"error,omitempty"`
}

type jsonObservationError struct {
	Domain reconcile.Domain `json:"domain"`
	Target string           `json:"target,omitempty"`
	Error  string           `json:"error"`
}

type jsonResult struct {
	Organization      string                 `json:"organization"`
	RunID             string                 `json:"run_id"`
	Mode              string                 `json:"mode"`
	Cancelled         bool                   `json:"cancelled"`
	Counts            reconcile.ChangeCounts `json:"counts"`
	Changes           []jsonChange           `json:"changes"`
	Unconfigured      []string               `json:"unconfigured"`
	ObservationErrors []jsonObservationError `json:"observation_errors,omitempty"`
}

// displayJSON writes the run result as one JSON document
func displayJSON(w io.Writer, org string, result *reconcile.RunResult) error {
	out := jsonResult{
		Organization: org,
		Cancelled:    result.Cancelled,
		Changes:      []jsonChange{},
		Unconfigured: result.Unconfigured,
	}
	if out.Unconfigured == nil {
		out.Unconfigured = []string{}
	}
	if result.Plan != nil {
		out.Counts = result.Plan.Counts()
	}

	if report := result.Report; report != nil {
		out.RunID = report.RunID
		out.Mode = report.Mode.String()
		out.Cancelled = out.Cancelled || report.Cancelled
		for _, res := range report.Results {
			c := res.Change
			out.Changes = append(out.Changes, jsonChange{
				Kind:        c.Kind,
				Stage:       c.Stage.String(),
				Queue:       c.Queue,
				Target:      c.Target,
				Before:      c.Before,
				After:       c.After,
				Description: c.Description,
				Status:      res.Status,
				Attempts:    res.Attempts,
				Error:       res.Reason(),
			})
		}
	}

	for _, oe := range result.ObservationErrors {
		out.ObservationErrors = append(out.ObservationErrors, jsonObservationError{
			Domain: oe.Domain,
			Target: oe.Target,
			Error:  oe.Err.Error(),
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
