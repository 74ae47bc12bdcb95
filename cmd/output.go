package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"discowatch/internal/models"
	"discowatch/internal/poller"
)

// Exit codes for commands that wait on a resource.
const (
	exitError        = 1
	exitFailedStatus = 2
	exitTimedOut     = 3
)

func exitCode(err error) int {
	switch {
	case poller.IsFailedStatus(err):
		return exitFailedStatus
	case errors.Is(err, poller.ErrMaxChecks), errors.Is(err, context.DeadlineExceeded):
		return exitTimedOut
	default:
		return exitError
	}
}

func colorOutcome(o poller.Outcome, s models.Status) string {
	text := string(s)
	if text == "" {
		text = "-"
	}
	switch o {
	case poller.Done:
		return color.GreenString(text)
	case poller.Failed:
		return color.RedString(text)
	default:
		return color.YellowString(text)
	}
}

func colorState(s models.WatchState) string {
	switch s {
	case models.WatchStateCompleted:
		return color.GreenString(string(s))
	case models.WatchStateFailed, models.WatchStateTimedOut:
		return color.RedString(string(s))
	case models.WatchStateCancelled:
		return color.New(color.Faint).Sprint(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

func renderWatches(w io.Writer, watches []models.Watch) {
	table := newTable(w, "ID", "Resource", "State", "Last Status", "Checks", "Updated", "Error")
	for _, wt := range watches {
		table.Append([]string{
			wt.ID.String(),
			wt.Resource.String(),
			colorState(wt.State),
			string(wt.LastStatus),
			strconv.Itoa(wt.Checks),
			wt.UpdatedAt.Local().Format(time.DateTime),
			wt.Error,
		})
	}
	table.Render()
}

func renderChecks(w io.Writer, checks []*models.StatusCheck) {
	table := newTable(w, "ID", "Resource", "Attempt", "Status", "Source", "Checked At", "Error")
	for _, c := range checks {
		table.Append([]string{
			strconv.FormatInt(c.ID, 10),
			c.ResourceKey,
			strconv.Itoa(c.Attempt),
			string(c.Status),
			c.Source,
			c.CheckedAt.Local().Format(time.DateTime),
			c.Error,
		})
	}
	table.Render()
}

func describeWatch(w io.Writer, wt models.Watch) {
	fmt.Fprintf(w, "Watch:       %s\n", wt.ID)
	fmt.Fprintf(w, "Resource:    %s\n", wt.Resource)
	fmt.Fprintf(w, "State:       %s\n", colorState(wt.State))
	fmt.Fprintf(w, "Last status: %s\n", wt.LastStatus)
	fmt.Fprintf(w, "Checks:      %d\n", wt.Checks)
	fmt.Fprintf(w, "Started:     %s\n", wt.StartedAt.Local().Format(time.DateTime))
	if wt.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:    %s\n", wt.FinishedAt.Local().Format(time.DateTime))
	}
	if wt.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", color.RedString(wt.Error))
	}
}
