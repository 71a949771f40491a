package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render writes plans to w in the given format.
func Render(w io.Writer, plans []InstancePlan, format string) error {
	switch format {
	case FormatText, "":
		return renderText(w, plans)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plans)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plans); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (valid: text, json, yaml)", format)
	}
}

func renderText(w io.Writer, plans []InstancePlan) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCPUS\tMEMORY\tIMAGE\tPORTS\tMOUNTS")

	for _, p := range plans {
		ports := make([]string, len(p.Ports))
		for i, port := range p.Ports {
			ports[i] = fmt.Sprintf("%d->%d", port.Host, port.Guest)
		}
		mounts := make([]string, len(p.Mounts))
		for i, m := range p.Mounts {
			mounts[i] = fmt.Sprintf("%s:%s", m.HostPath, m.GuestPath)
		}

		fmt.Fprintf(tw, "%s\t%d\t%dMiB\t%s/%s\t%s\t%s\n",
			p.Name, p.CPUs, p.MemoryMB, p.Image.Channel, p.Image.Version,
			orDash(strings.Join(ports, ",")), orDash(strings.Join(mounts, ",")))
	}

	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
