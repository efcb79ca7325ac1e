package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/invigil/internal/config"
	"github.com/loykin/invigil/internal/format"
	"github.com/loykin/invigil/internal/timesync"
	"github.com/loykin/invigil/pkg/client"
)

// command carries what every subcommand needs: flags, output and a way to
// reach the daemon. Tests swap newClient and now.
type command struct {
	flags     *GlobalFlags
	out       io.Writer
	now       func() time.Time
	newClient func() (*client.Client, error)
}

func newCommand(flags *GlobalFlags, out io.Writer) *command {
	c := &command{flags: flags, out: out, now: time.Now}
	c.newClient = c.defaultClient
	return c
}

func (c *command) defaultClient() (*client.Client, error) {
	cfg := client.DefaultConfig()
	if c.flags.APIUrl != "" {
		cfg.BaseURL = c.flags.APIUrl
	}
	if c.flags.APITimeout > 0 {
		cfg.Timeout = c.flags.APITimeout
	}
	if c.flags.CACert != "" || c.flags.Insecure {
		cfg.TLS = &client.TLSClientConfig{CACert: c.flags.CACert, SkipVerify: c.flags.Insecure}
	}
	return client.New(cfg)
}

func (c *command) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}

// parseAt accepts RFC3339 or a wall-clock HH:MM / HH:MM:SS for today in the
// local zone. Empty means "let the daemon decide".
func parseAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or HH:MM", s)
}

func (c *command) Start(ctx context.Context, f StartFlags) error {
	at, err := parseAt(f.At, c.now())
	if err != nil {
		return err
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	s, err := cl.Start(ctx, client.StartRequest{TemplateID: f.TemplateID, StartTime: at})
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(s)
	}
	_, err = fmt.Fprintf(c.out, "started %s (%s) at %s, session %s\n",
		s.TemplateName, s.TemplateID, format.DateTime(s.StartTime.Local()), s.SessionID)
	return err
}

// Transition runs pause, resume, skip, end or restore.
func (c *command) Transition(ctx context.Context, action string) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	var fn func(context.Context) (*client.Session, error)
	switch action {
	case "pause":
		fn = cl.Pause
	case "resume":
		fn = cl.Resume
	case "skip":
		fn = cl.Skip
	case "end":
		fn = cl.End
	case "restore":
		fn = cl.Restore
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	s, err := fn(ctx)
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(s)
	}
	_, err = fmt.Fprintf(c.out, "%s: session %s is %s\n", action, s.SessionID, s.Status)
	return err
}

func (c *command) Reset(ctx context.Context) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	if err := cl.Reset(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, "session cleared")
	return err
}

func (c *command) Status(ctx context.Context) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	snap, err := cl.Session(ctx)
	if client.IsNotFound(err) {
		_, err = fmt.Fprintln(c.out, "no active session")
		return err
	}
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(snap)
	}
	return c.renderSnapshot(snap)
}

func (c *command) renderSnapshot(snap *client.Snapshot) error {
	s, p := snap.Session, snap.Progress
	if s == nil {
		_, err := fmt.Fprintln(c.out, "no active session")
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Session:\t%s (%s)\n", s.TemplateName, s.SessionID)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", s.Status)
	_, _ = fmt.Fprintf(tw, "Start:\t%s\n", format.DateTime(s.StartTime.Local()))
	if p != nil {
		if p.CurrentNode != nil {
			_, _ = fmt.Fprintf(tw, "Current:\t%s\n", p.CurrentNode.Name)
		}
		if p.NextNode != nil {
			_, _ = fmt.Fprintf(tw, "Next:\t%s at %s, in %s\n", p.NextNode.Name,
				format.NodeTimeRange(p.NextNode.Offset, s.StartTime.Local()), format.Countdown(p.RemainingSeconds))
		} else {
			_, _ = fmt.Fprintf(tw, "Next:\tall steps completed\n")
		}
		_, _ = fmt.Fprintf(tw, "Progress:\t%s (%d done, %d to go)\n", format.Percent(p.Percent), len(p.CompletedNodes), len(p.UpcomingNodes))
	}
	_, _ = fmt.Fprintf(tw, "Clock offset:\t%s\n", format.Offset(s.NTPOffsetSeconds))
	return tw.Flush()
}

// Watch prints progress and reminders as they arrive until ctx is done.
func (c *command) Watch(ctx context.Context, f WatchFlags) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	var lastLine string
	return cl.Watch(ctx, func(ev client.Event) error {
		if c.flags.JSON {
			return c.printJSON(ev)
		}
		switch {
		case ev.Reminder != nil:
			r := ev.Reminder
			if f.Bell {
				_, _ = io.WriteString(c.out, bells(r.Type))
			}
			_, err := fmt.Fprintf(c.out, "[%s] %s: %s\n", format.Clock(r.At.Local(), true), strings.ToUpper(r.Type), r.Title)
			if err == nil && r.Content != "" {
				_, err = fmt.Fprintf(c.out, "           %s\n", r.Content)
			}
			return err
		case ev.Snapshot != nil:
			line := progressLine(ev.Snapshot)
			// ticks repeat the same line while nothing changes
			if line == lastLine {
				return nil
			}
			lastLine = line
			_, err := fmt.Fprintln(c.out, line)
			return err
		}
		return nil
	})
}

func bells(kind string) string {
	if kind == "alert" {
		return "\a\a\a"
	}
	return "\a\a"
}

func progressLine(snap *client.Snapshot) string {
	s, p := snap.Session, snap.Progress
	if s == nil || p == nil {
		return "no active session"
	}
	next := "all steps completed"
	if p.NextNode != nil {
		next = fmt.Sprintf("next %s in %s", p.NextNode.Name, format.Countdown(p.RemainingSeconds))
	}
	return fmt.Sprintf("%s  %s  %s  %s", s.TemplateName, s.Status, next, format.Percent(p.Percent))
}

func (c *command) TimeStatus(ctx context.Context) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	ts, err := cl.Time(ctx)
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(ts)
	}
	tw := tabwriter.NewWriter(c.out, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Corrected:\t%s\n", format.DateTime(ts.Now.Local()))
	_, _ = fmt.Fprintf(tw, "Local:\t%s\n", format.DateTime(ts.Local.Local()))
	_, _ = fmt.Fprintf(tw, "Status:\t%s (%s)\n", ts.Status, ts.Message)
	if ts.OffsetSeconds != nil {
		_, _ = fmt.Fprintf(tw, "Offset:\t%s via %s\n", format.Offset(*ts.OffsetSeconds), ts.Source)
	}
	if ts.LastSync != nil {
		_, _ = fmt.Fprintf(tw, "Last sync:\t%s\n", format.Relative(*ts.LastSync, ts.Local))
	}
	return tw.Flush()
}

func (c *command) TimeSync(ctx context.Context) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	r, err := cl.Sync(ctx)
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(r)
	}
	if !r.Success {
		_, err = fmt.Fprintf(c.out, "sync failed, using local time: %s\n", r.Error)
		return err
	}
	_, err = fmt.Fprintf(c.out, "synced via %s, offset %s\n", r.Source, format.Offset(r.OffsetSeconds))
	return err
}

// TimeProbe queries each configured source directly, without the daemon.
func (c *command) TimeProbe(ctx context.Context, f ProbeFlags) error {
	cfg, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return err
	}
	coord := timesync.New(cfg.TimeSync.Sources)
	var results []timesync.Result
	for _, src := range coord.Sources() {
		if f.Source != "" && src.Name != f.Source {
			continue
		}
		r, _ := coord.Probe(ctx, src)
		results = append(results, r)
	}
	if len(results) == 0 {
		return fmt.Errorf("no time source named %q", f.Source)
	}
	if c.flags.JSON {
		return c.printJSON(results)
	}
	tw := tabwriter.NewWriter(c.out, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SOURCE\tOK\tOFFSET\tERROR")
	for _, r := range results {
		off := "-"
		if r.Success {
			off = format.Offset(r.OffsetSeconds)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.Source, r.Success, off, r.Error)
	}
	return tw.Flush()
}

func (c *command) TemplatesList(ctx context.Context) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	list, err := cl.Templates(ctx)
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(list)
	}
	tw := tabwriter.NewWriter(c.out, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSTEPS")
	for _, t := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Version, len(t.Nodes))
	}
	return tw.Flush()
}

// TemplateShow prints the timeline of a template as it would run from f.At
// (default: now).
func (c *command) TemplateShow(ctx context.Context, id string, f ShowFlags) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("template id required")
	}
	start, err := parseAt(f.At, c.now())
	if err != nil {
		return err
	}
	if start.IsZero() {
		start = c.now()
	}
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	t, err := cl.Template(ctx, id)
	if err != nil {
		return err
	}
	if c.flags.JSON {
		return c.printJSON(t)
	}
	_, _ = fmt.Fprintf(c.out, "%s (%s) v%s\n", t.Name, t.ID, t.Version)
	tw := tabwriter.NewWriter(c.out, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STEP\tAT\tWARN\tDESCRIPTION")
	for _, n := range t.Nodes {
		warn := "-"
		if n.WarnTime > 0 {
			warn = format.Duration(int64(n.WarnTime * 60))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Name, format.NodeTimeRange(n.Offset, start), warn, n.Description)
	}
	return tw.Flush()
}
