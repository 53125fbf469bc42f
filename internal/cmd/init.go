package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adamancini/hold/internal/config"
	"github.com/adamancini/hold/internal/interactive"
	"github.com/adamancini/hold/internal/templates"
)

func newInitCmd() *cobra.Command {
	var templateName string
	var outputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file from a template",
		Long: `Create a hold config file from a built-in template.

Available templates:
  minimal  - One cargo, local sqlite state
  shared   - Install records in a shared libsql database
  full     - Every option with its default

Examples:
  hold init                          # minimal template at the default location
  hold init --template=full
  hold init --path ./hold.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), templateName, outputPath, force)
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", templates.Default, "Template name")
	cmd.Flags().StringVar(&outputPath, "path", "", "Output path (default $XDG_CONFIG_HOME/hold/config.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	_ = cmd.RegisterFlagCompletionFunc("template", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var completions []string
		for _, name := range templates.List() {
			completions = append(completions, fmt.Sprintf("%s\t%s", name, templates.GetDescription(name)))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func defaultConfigPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "hold", "config.yaml"), nil
}

func runInit(stdin io.Reader, stdout io.Writer, templateName, outputPath string, force bool) error {
	tmpl, err := templates.Get(templateName)
	if err != nil {
		return err
	}

	if outputPath == "" {
		if outputPath, err = defaultConfigPath(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(outputPath); err == nil && !force {
		if !interactive.IsTerminal() {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", outputPath)
		}
		if !interactive.NewPrompterWithIO(stdin, stdout).Confirm("Config already exists at %s. Overwrite?", outputPath) {
			_, _ = fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(outputPath, tmpl.Content, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if _, err := config.Load(outputPath); err != nil {
		return fmt.Errorf("wrote %s but it does not load: %w", outputPath, err)
	}

	_, _ = fmt.Fprintf(stdout, "Created %s from the %s template\n", outputPath, tmpl.Name)
	_, _ = fmt.Fprintln(stdout, "\nNext steps:")
	_, _ = fmt.Fprintln(stdout, "  1. Replace the example cargos with your manifest URLs")
	_, _ = fmt.Fprintln(stdout, "  2. Run 'hold check' to see what needs updating")
	return nil
}
