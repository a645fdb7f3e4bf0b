package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

func newValidateCmd() *cobra.Command {
	var showSchema bool
	cmd := &cobra.Command{
		Use:   "validate <descriptor.cwl>...",
		Short: "Check that CWL descriptors can be served",
		Long: `The validate command parses each descriptor the way serve would and reports
the tool name and its inputs. It fails if any descriptor is rejected or two
descriptors resolve to the same tool name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateDescriptors(cmd.OutOrStdout(), args, showSchema)
		},
	}
	cmd.Flags().BoolVar(&showSchema, "schema", false, "Print the derived MCP input schema of each tool")
	return cmd
}

func validateDescriptors(out io.Writer, paths []string, showSchema bool) error {
	reg := registry.New(nil)
	failed := 0

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tINPUTS\tOUTPUTS\tPATH")
	for _, path := range paths {
		tool, err := reg.AddTool(path)
		if err != nil {
			failed++
			fmt.Fprintf(w, "-\t-\t-\t%s: %v\n", path, err)
			continue
		}
		d := tool.Descriptor
		inputs := make([]string, 0, len(d.Inputs))
		for _, in := range d.Inputs {
			name := in.Name + ":" + in.Type.String()
			if in.Required() {
				name += "*"
			}
			inputs = append(inputs, name)
		}
		outputs := make([]string, 0, len(d.Outputs))
		for _, o := range d.Outputs {
			outputs = append(outputs, o.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tool.Name, strings.Join(inputs, ","), strings.Join(outputs, ","), path)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if showSchema {
		for _, tool := range reg.List() {
			var pretty map[string]any
			if err := json.Unmarshal(tool.Descriptor.InputSchemaJSON(), &pretty); err != nil {
				return err
			}
			data, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n# %s\n%s\n", tool.Name, data)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d descriptors rejected", failed, len(paths))
	}
	return nil
}
