package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/steelcutops/imclsync/imclsync/reconciler"
)

var (
	okColor     = color.New(color.FgGreen, color.Bold)
	changeColor = color.New(color.FgYellow, color.Bold)
	failColor   = color.New(color.FgRed, color.Bold)
)

type hostResults struct {
	Host    string              `json:"host"`
	Results []reconciler.Result `json:"results"`
}

type summary struct {
	DryRun  bool          `json:"dry_run"`
	Changed int           `json:"changed"`
	Failed  int           `json:"failed"`
	Hosts   []hostResults `json:"hosts"`
}

// report collects results from concurrent hosts. Order within a host is the
// order of the requests.
type report struct {
	mu     sync.Mutex
	dryRun bool
	byHost map[string][]reconciler.Result
}

func newReport(dryRun bool) *report {
	return &report{dryRun: dryRun, byHost: map[string][]reconciler.Result{}}
}

func (r *report) add(hostname string, res reconciler.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHost[hostname] = append(r.byHost[hostname], res)
}

func (r *report) summary() summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := summary{DryRun: r.dryRun}
	hosts := make([]string, 0, len(r.byHost))
	for h := range r.byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		results := r.byHost[h]
		for _, res := range results {
			if res.Changed {
				s.Changed++
			}
			if res.Failed {
				s.Failed++
			}
		}
		s.Hosts = append(s.Hosts, hostResults{Host: h, Results: results})
	}
	return s
}

func (r *report) failed() int {
	return r.summary().Failed
}

func (r *report) write(w io.Writer, format string) error {
	s := r.summary()

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "", "text":
		return writeText(w, s)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeText(w io.Writer, s summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tPACKAGE\tSTATE\tACTION\tCHANGED\tSTATUS\tMESSAGE")
	for _, h := range s.Hosts {
		for _, res := range h.Results {
			status := "ok"
			if res.Failed {
				status = res.ErrorKind.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
				h.Host, res.Package, res.State, res.Action, res.Changed, status, res.Message)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	mode := ""
	if s.DryRun {
		mode = " (check mode)"
	}
	summaryColor := okColor
	switch {
	case s.Failed > 0:
		summaryColor = failColor
	case s.Changed > 0:
		summaryColor = changeColor
	}
	fmt.Fprintln(w)
	if _, err := summaryColor.Fprintf(w, "%d changed, %d failed%s", s.Changed, s.Failed, mode); err != nil {
		return err
	}
	fmt.Fprintln(w)

	// vendor output is only shown for failures, verbatim
	for _, h := range s.Hosts {
		for _, res := range h.Results {
			if !res.Failed || (res.Stdout == "" && res.Stderr == "") {
				continue
			}
			fmt.Fprintln(w)
			failColor.Fprintf(w, "--- %s %s", h.Host, res.Package)
			fmt.Fprintln(w)
			if res.Command != "" {
				fmt.Fprintf(w, "command: %s\n", res.Command)
			}
			if res.Stdout != "" {
				fmt.Fprintf(w, "stdout:\n%s\n", strings.TrimRight(res.Stdout, "\n"))
			}
			if res.Stderr != "" {
				fmt.Fprintf(w, "stderr:\n%s\n", strings.TrimRight(res.Stderr, "\n"))
			}
		}
	}
	return nil
}
