package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"wasender/internal/devices"
	"wasender/internal/dispatch"
)

// lineSink prints compose outcome lines as they arrive.
type lineSink struct {
	w io.Writer
}

func (s *lineSink) Success(_ context.Context, text string) {
	fmt.Fprintln(s.w, color.Green.Sprint("✔ ")+text)
}

func (s *lineSink) Failure(_ context.Context, text string) {
	fmt.Fprintln(s.w, color.Red.Sprint("✘ ")+text)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// renderOutcomes prints one row per broadcast target, in target order.
func renderOutcomes(w io.Writer, res dispatch.Result) {
	table := newTable(w, "#", "Device", "Result", "Detail")
	for i, o := range res.Outcomes {
		state := color.Green.Sprint("ok")
		detail := o.Message
		if !o.OK() {
			state = color.Red.Sprint("failed")
			detail = o.Error()
		}
		table.Append([]string{strconv.Itoa(i + 1), o.DeviceID, state, detail})
	}
	table.Render()
}

func renderDevices(w io.Writer, list []devices.Device) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No devices connected.")
		return
	}
	table := newTable(w, "ID", "Name", "State")
	for _, d := range list {
		state := d.State
		switch {
		case state == "":
			state = color.Gray.Sprint("unknown")
		case d.LoggedIn():
			state = color.Green.Sprint(state)
		default:
			state = color.Yellow.Sprint(state)
		}
		table.Append([]string{devices.TargetID(d), devices.DisplayName(d), state})
	}
	table.Render()
}
