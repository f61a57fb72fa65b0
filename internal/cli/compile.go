package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/pkg/rulelang"
)

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [flags] rule",
		Short: "compile a rule and print its AST.",
		Long: `Compile a rule such as "age > 30 AND department = 'Sales'" and print the
serialized AST as JSON. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := rulelang.Compile(args[0])
			if err != nil {
				return err
			}
			data, err := rulelang.MarshalNode(node)
			if err != nil {
				return err
			}
			if getFlag(cmd, "pretty") {
				data, err = indent(data)
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().BoolP("pretty", "p", false, "indent the JSON output")
	return cmd
}

func indent(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
