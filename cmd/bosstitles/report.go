package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/services"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printPreRun(w io.Writer, stats map[domain.Status]int64, cs domain.CacheStats, est services.CostEstimate) {
	fmt.Fprintln(w, "Ledger:")
	tw := newTable(w)
	for _, s := range domain.AllStatuses {
		fmt.Fprintf(tw, "  %s\t%d\n", s, stats[s])
	}
	tw.Flush()
	fmt.Fprintf(w, "Cache: %d active, %d expired\n", cs.Active, cs.Expired)
	fmt.Fprintf(w, "Planned: %d videos, estimated cost $%.3f (thumbnail $%.3f + frames $%.3f)\n",
		est.Videos, est.Total, est.Thumbnail, est.Frames)
}

func printSummary(w io.Writer, sum *services.Summary) {
	if sum == nil {
		return
	}
	if sum.DryRun {
		fmt.Fprintln(w, "\nDry run, nothing was changed:")
		tw := newTable(w)
		fmt.Fprintln(tw, "VIDEO\tGAME\tOUTCOME\tPLANNED TITLE")
		for _, r := range sum.Results {
			title := r.NewTitle
			if title == "" && r.Outcome == services.OutcomePlanned {
				title = "(needs identification)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.VideoID, r.Game, r.Outcome, title)
		}
		tw.Flush()
		fmt.Fprintf(w, "Planned %d, skipped %d\n", sum.Planned, sum.Skipped)
		return
	}

	fmt.Fprintf(w, "\nRun %s finished in %s\n", sum.RunID, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Completed %d, failed %d, skipped %d, interrupted %d (of %d)\n",
		sum.Completed, sum.Failed, sum.Skipped, sum.Interrupted, sum.Total)

	var failed []services.Result
	for _, r := range sum.Results {
		if r.Outcome == services.OutcomeFailed {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w, "\nFailures:")
	tw := newTable(w)
	fmt.Fprintln(tw, "VIDEO\tGAME\tCODE\tCATEGORY\tERROR")
	for _, r := range failed {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", r.VideoID, r.Game, diagnose(r.Err), r.Category, r.Err)
	}
	tw.Flush()
}

func printGames(w io.Writer, games []services.GameCount) {
	if len(games) == 0 {
		fmt.Fprintln(w, "No default-titled videos found.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "GAME\tVIDEOS\tMELEE")
	total := 0
	for _, g := range games {
		melee := ""
		if g.Melee {
			melee = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", g.Game, g.Count, melee)
		total += g.Count
	}
	tw.Flush()
	fmt.Fprintf(w, "%d games, %d videos\n", len(games), total)
}

func printRollbackCandidates(w io.Writer, cands []domain.RollbackCandidate) {
	if len(cands) == 0 {
		fmt.Fprintln(w, "No videos can be rolled back.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "VIDEO\tCURRENT TITLE\tORIGINAL TITLE\tUPDATED")
	for _, c := range cands {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.VideoID, c.CurrentTitle, c.OriginalTitle, c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d videos\n", len(cands))
}
