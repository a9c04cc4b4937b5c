// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func validOutput(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json", "yaml":
		return true
	}
	return false
}

// runOutput is the serialized form of one engine result.
type runOutput struct {
	domain.RunSummary `yaml:",inline"`
	Error             string `json:"error,omitempty" yaml:"error,omitempty"`
}

func writeResults(w io.Writer, format string, results []engine.Result) error {
	out := make([]runOutput, len(results))
	for i, res := range results {
		out[i].RunSummary = res.Summary
		if out[i].RunID == "" {
			out[i].RunID = res.Request.RunID
			out[i].AppID = res.Request.AppID
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}

	switch strings.ToLower(format) {
	case "json":
		return encodeJSON(w, out)
	case "yaml":
		return encodeYAML(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tAPP\tSTOP REASON\tSTEPS\tNEW SCREENS\tERRORS\tRESTARTS\tDURATION")
	for _, o := range out {
		reason := string(o.StopReason)
		if o.Error != "" {
			reason = "error: " + o.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			o.RunID, o.AppID, reason,
			o.Counters.StepsTotal, o.Counters.ScreensNew, o.Counters.Errors, o.Counters.RestartsUsed,
			o.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func writeStats(w io.Writer, format, runID string, stats domain.ExplorationStats) error {
	switch strings.ToLower(format) {
	case "json":
		return encodeJSON(w, stats)
	case "yaml":
		return encodeYAML(w, stats)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", runID)
	fmt.Fprintf(tw, "Screens in run:\t%d\n", stats.RunNodes)
	fmt.Fprintf(tw, "Transitions in run:\t%d\n", stats.RunEdges)
	fmt.Fprintf(tw, "Screens known:\t%d\n", stats.NodesTotal)
	fmt.Fprintf(tw, "Transitions known:\t%d\n", stats.EdgesTotal)
	return tw.Flush()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML output: %w", err)
	}
	return enc.Close()
}
