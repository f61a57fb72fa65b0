package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/pkg/rulelang"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval [flags]",
		Short: "evaluate a rule against JSON data.",
		Long: `Evaluate a rule (--rule) or a serialized AST (--ast file) against a flat JSON
object given inline or as @file. Prints true or false.`,
		Args: cobra.NoArgs,
		RunE: runEval,
	}
	cmd.Flags().StringP("rule", "r", "", "rule text")
	cmd.Flags().String("ast", "", "file holding a serialized AST")
	cmd.Flags().StringP("data", "d", "", "JSON object, or @file to read it from a file")
	cmd.Flags().Bool("explain", false, "print the per-node evaluation trace")
	cmd.MarkFlagsMutuallyExclusive("rule", "ast")
	cmd.MarkFlagsOneRequired("rule", "ast")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	node, err := loadNode(cmd)
	if err != nil {
		return err
	}

	dataArg, _ := cmd.Flags().GetString("data")
	raw, err := readArg(dataArg)
	if err != nil {
		return err
	}
	ctx, err := rulelang.ParseContext(raw)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if getFlag(cmd, "explain") {
		tr, err := rulelang.Trace(node, ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(tr, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	result, err := rulelang.Evaluate(node, ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func loadNode(cmd *cobra.Command) (rulelang.Node, error) {
	if rule, _ := cmd.Flags().GetString("rule"); rule != "" {
		return rulelang.Compile(rule)
	}
	path, _ := cmd.Flags().GetString("ast")
	if path == "" {
		return nil, errors.New("one of --rule or --ast is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ast: %w", err)
	}
	return rulelang.UnmarshalNode(data)
}

// readArg returns arg, or the contents of the named file when arg is "@file".
func readArg(arg string) ([]byte, error) {
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
		return data, nil
	}
	return []byte(arg), nil
}
