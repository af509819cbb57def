// File: cmd/scripts.go
package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/observability"
	"github.com/greasewire/greasewire/internal/script"
	"github.com/greasewire/greasewire/internal/scriptstore"
)

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Manage the userscript store.",
}

var scriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored userscripts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scriptstore.New(cfg.Scripts.Dir, observability.GetLogger())
		if err != nil {
			return err
		}

		all := store.GetAllScripts()
		if len(all) == 0 {
			fmt.Println("no scripts stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tENABLED\tRUN-AT\tPATTERNS")
		for _, us := range all {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\n",
				us.ID, us.DisplayName(), us.Meta.Version, us.Enabled,
				us.Meta.RunAt, len(us.Patterns()))
		}
		return w.Flush()
	},
}

var scriptsAddCmd = &cobra.Command{
	Use:   "add <file|github:owner/repo/path>",
	Short: "Add a userscript from a local file or a GitHub reference.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		store, err := scriptstore.New(cfg.Scripts.Dir, logger)
		if err != nil {
			return err
		}

		var source string
		if strings.HasPrefix(args[0], "github:") {
			source, err = scriptstore.FetchGitHub(cmd.Context(), args[0], cfg.Scripts.GitHubToken)
			if err != nil {
				return err
			}
		} else {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			source = string(raw)
		}

		us, err := store.AddScript(source)
		if err != nil {
			return err
		}
		logger.Info("Script added.",
			zap.String("id", us.ID), zap.String("name", us.DisplayName()))
		fmt.Println(us.ID)
		return nil
	},
}

var scriptsRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a userscript from the store.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scriptstore.New(cfg.Scripts.Dir, observability.GetLogger())
		if err != nil {
			return err
		}
		return store.RemoveScript(args[0])
	},
}

var scriptsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a userscript.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scriptstore.New(cfg.Scripts.Dir, observability.GetLogger())
		if err != nil {
			return err
		}
		return store.EnableScript(args[0])
	},
}

var scriptsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a userscript without removing it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := scriptstore.New(cfg.Scripts.Dir, observability.GetLogger())
		if err != nil {
			return err
		}
		return store.DisableScript(args[0])
	},
}

var scriptsValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Syntax-check a userscript and report its parsed metadata.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		source := string(raw)

		if err := script.Validate(source); err != nil {
			return fmt.Errorf("%s does not parse: %w", args[0], err)
		}

		meta := script.ParseHeader(source)
		fmt.Printf("ok: %s\n", args[0])
		fmt.Printf("  name:      %s\n", meta.Name)
		fmt.Printf("  namespace: %s\n", meta.Namespace)
		fmt.Printf("  version:   %s\n", meta.Version)
		fmt.Printf("  run-at:    %s\n", meta.RunAt)
		fmt.Printf("  patterns:  %d match, %d include, %d exclude\n",
			len(meta.Matches), len(meta.Includes), len(meta.Excludes))
		fmt.Printf("  deps:      %d require, %d resource\n",
			len(meta.Requires), len(meta.Resources))
		if len(meta.Matches)+len(meta.Includes) == 0 {
			fmt.Println("  warning: no @match or @include; the script will never run")
		}
		return nil
	},
}

var syncRemote string

var scriptsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync userscripts from a git remote into the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote := syncRemote
		if remote == "" {
			remote = cfg.Scripts.GitRemote
		}
		if remote == "" {
			return fmt.Errorf("no git remote: pass --remote or set scripts.git_remote")
		}

		store, err := scriptstore.New(cfg.Scripts.Dir, observability.GetLogger())
		if err != nil {
			return err
		}
		res, err := store.SyncGit(cmd.Context(), remote)
		if err != nil {
			return err
		}
		fmt.Printf("synced: %d added, %d updated, %d skipped\n",
			res.Added, res.Updated, res.Skipped)
		return nil
	},
}

func init() {
	scriptsSyncCmd.Flags().StringVar(&syncRemote, "remote", "", "git remote URL to sync from")
	scriptsCmd.AddCommand(scriptsListCmd, scriptsAddCmd, scriptsRmCmd,
		scriptsEnableCmd, scriptsDisableCmd, scriptsValidateCmd, scriptsSyncCmd)
	rootCmd.AddCommand(scriptsCmd)
}
