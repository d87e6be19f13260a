package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CreateFlagsCmd creates the flags command.
func CreateFlagsCmd() *cobra.Command {
	var optionsFile, home, format string

	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Print the geth command line for an option file",
		Long: `Derives the geth arguments from an option file the same way the supervisor does, without starting geth. ` +
			`Nothing on disk is changed: a symlink option is shown as the datadir but not created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := geth.LoadOptions(optionsFile)
			if err != nil {
				return err
			}
			builder := geth.NewBuilder()
			builder.DryRun = true
			if home != "" {
				builder.Home = home
			}
			args, err := builder.Build(opts)
			if err != nil {
				return err
			}
			return printArgs(cmd.OutOrStdout(), format, args)
		},
	}

	cmd.Flags().StringVarP(&optionsFile, "options", "o", "geth.toml", "geth option file (TOML or YAML)")
	cmd.Flags().StringVar(&home, "home", "", "Home directory for the default datadir (default: current user's)")
	cmd.Flags().StringVarP(&format, "format", "f", "shell", "Output format: shell, json or yaml")

	return cmd
}

type argsOutput struct {
	Args    []string `json:"args" yaml:"args"`
	DataDir string   `json:"datadir" yaml:"datadir"`
}

func printArgs(w io.Writer, format string, args *geth.Args) error {
	out := argsOutput{Args: args.Argv, DataDir: args.DataDir}
	switch format {
	case "shell":
		quoted := make([]string, len(args.Argv))
		for i, a := range args.Argv {
			quoted[i] = shellQuote(a)
		}
		_, err := fmt.Fprintln(w, strings.Join(quoted, " "))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// shellQuote single-quotes s when the shell would split or expand it.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`*?[]{}()<>|&;~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
