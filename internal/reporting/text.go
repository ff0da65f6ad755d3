package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/reqhijack/api/schemas"
)

var (
	headerSep    = strings.Repeat("=", 52) + "\n"
	subheaderSep = strings.Repeat("-", 52) + "\n"
)

// TimestampLayout is the dd/mm/YYYY HH:MM:SS stamp of the text report header.
const TimestampLayout = "02/01/2006 15:04:05"

// TextReporter renders the line-oriented sinks.flows.out report.
type TextReporter struct{}

func (TextReporter) FileName() string { return FlowTextFile }

// Render implements Reporter.
func (TextReporter) Render(report *schemas.FlowReport) ([]byte, error) {
	var b strings.Builder
	b.WriteString(headerSep)
	fmt.Fprintf(&b, "[timestamp] generated on %s\n", report.GeneratedAt.Format(TimestampLayout))
	b.WriteString(headerSep + "\n")
	fmt.Fprintf(&b, "[*] webpage URL: %s\n\n", report.URL)
	b.WriteString(subheaderSep + "\n")

	for _, flow := range report.Flows {
		writeFlow(&b, flow)
		b.WriteString("\n\n")
		b.WriteString(subheaderSep)
	}
	return []byte(b.String()), nil
}

func writeFlow(b *strings.Builder, flow schemas.Flow) {
	fmt.Fprintf(b, "[*] webpage: %s\n", flow.Webpage)
	fmt.Fprintf(b, "[*] script: %s\n", flow.Script)
	fmt.Fprintf(b, "[*] semantic_types: %s\n", PyList(flow.SemanticTypes))
	fmt.Fprintf(b, "[*] node_id: %s\n", flow.NodeID)
	fmt.Fprintf(b, "[*] cfg_node_id: %s\n", flow.CFGNodeID)
	fmt.Fprintf(b, "[*] loc: %s\n", flow.Loc)
	fmt.Fprintf(b, "[*] sink_type: %s\n", flow.SinkType)
	fmt.Fprintf(b, "[*] sink_code: %s\n", flow.SinkCode)

	counter := 1
	for _, varname := range variableOrder(flow) {
		vs := flow.ProgramSlices[varname]
		for i, s := range vs.Slices {
			// A variable block opens only when its first slice defines the variable itself.
			if i == 0 && strings.Contains(s.Code, varname) {
				fmt.Fprintf(b, "\n%d:%s variable=%s\n", counter, PyList(vs.SemanticTypes), varname)
				counter++
			}
			fmt.Fprintf(b, "\t%s (loc:%s)- %s\n", s.Index, s.Loc, s.Code)
		}
	}
}

// variableOrder returns the resolution order, falling back to sorted keys for reports that
// were decoded from JSON.
func variableOrder(flow schemas.Flow) []string {
	if len(flow.Variables) > 0 {
		return flow.Variables
	}
	keys := make([]string, 0, len(flow.ProgramSlices))
	for k := range flow.ProgramSlices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PyList renders strings as a bracketed, single-quoted list, e.g. ['RD_WIN_LOC'].
func PyList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
