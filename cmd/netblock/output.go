package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/services/updater"
)

// Output formats accepted by --output.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validFormat(f string) bool {
	return f == formatText || f == formatJSON || f == formatYAML
}

// printer renders command results in the selected format. Structured formats
// always go to out; text failures go to errOut.
type printer struct {
	format string
	out    io.Writer
	errOut io.Writer
}

// emit writes v as JSON or YAML, or calls text for the text format.
func (p printer) emit(v any, text func(w io.Writer)) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(p.out)
		return nil
	}
}

// resultView adds the error detail, which UpdateResult itself never serializes.
type resultView struct {
	domain.UpdateResult `yaml:",inline"`
	Detail              string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (p printer) result(op string, res domain.UpdateResult) error {
	view := resultView{UpdateResult: res}
	if res.Err != nil {
		view.Detail = res.Err.Error()
	}
	if !res.Success && p.format == formatText {
		fmt.Fprintf(p.errOut, "%s failed while %s: %s: %s\n", op, res.Stage, res.ErrorKind, view.Detail)
		return nil
	}
	return p.emit(view, func(w io.Writer) {
		switch {
		case op == updater.OpRemove && !res.Changed:
			fmt.Fprintln(w, "No managed block present; hosts file unchanged")
		case op == updater.OpRemove:
			fmt.Fprintf(w, "Removed managed block (%d entries)\n", res.Removed)
		case res.DryRun && res.Changed:
			fmt.Fprintf(w, "Dry run: would write %d entries from %s (+%d -%d)\n", res.Entries, res.SourceUsed, res.Added, res.Removed)
		case res.DryRun:
			fmt.Fprintf(w, "Dry run: hosts file already matches %s (%d entries)\n", res.SourceUsed, res.Entries)
		case res.Changed:
			fmt.Fprintf(w, "Updated hosts file from %s: %d entries (+%d -%d)\n", res.SourceUsed, res.Entries, res.Added, res.Removed)
		default:
			fmt.Fprintf(w, "Hosts file already up to date from %s (%d entries)\n", res.SourceUsed, res.Entries)
		}
	})
}

func (p printer) status(st domain.BlockStatus) error {
	return p.emit(st, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		state := "inactive"
		if st.IsBlocked {
			state = "active"
		}
		fmt.Fprintf(tw, "Blocking:\t%s\n", state)
		fmt.Fprintf(tw, "Entries:\t%d\n", st.EntryCount)
		if st.SourceUpdated != "" {
			fmt.Fprintf(tw, "Source updated:\t%s\n", st.SourceUpdated)
		}
		if st.HostsUpdatedAt != nil {
			fmt.Fprintf(tw, "Hosts updated:\t%s\n", st.HostsUpdatedAt.Local().Format(time.RFC3339))
		}
		_ = tw.Flush()
	})
}

func (p printer) sources(list []updater.SourceInfo) error {
	return p.emit(list, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tPRIORITY\tURL")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Label, s.Priority, s.URL)
		}
		_ = tw.Flush()
	})
}

type sourceDateView struct {
	SourceUpdated string          `json:"source_updated" yaml:"source_updated"`
	SourceUsed    domain.SourceID `json:"source_used" yaml:"source_used"`
}

func (p printer) sourceDate(v sourceDateView) error {
	return p.emit(v, func(w io.Writer) {
		fmt.Fprintf(w, "%s (from %s)\n", v.SourceUpdated, v.SourceUsed)
	})
}

func (p printer) decision(d domain.BlockDecision) error {
	return p.emit(d, func(w io.Writer) {
		if !d.Blocked {
			fmt.Fprintf(w, "%s: not blocked\n", d.Domain)
			return
		}
		fmt.Fprintf(w, "%s: blocked -> %s (apex %s)\n", d.Domain, d.IP, d.Apex)
	})
}
