package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"plugin/manager/internal/config"
)

type cliOptions struct {
	pluginsDir   string
	settingsPath string
	verbose      bool
}

func (o *cliOptions) manager() (*config.Manager, error) {
	return config.New(o.pluginsDir, o.settingsPath,
		config.WithLogger(newLogger(o.verbose)))
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	defPlugins, defSettings := defaultPaths()

	root := &cobra.Command{
		Use:           "pluginctl",
		Short:         "Manage plugin repositories and enabled plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.pluginsDir, "plugins-dir", defPlugins,
		"plugins directory holding config.json and backups")
	root.PersistentFlags().StringVar(&opts.settingsPath, "settings", defSettings,
		"settings.json path")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"enable debug logging")

	root.AddCommand(
		newRepoCmd(opts),
		newPluginCmd(opts),
		newSyncCmd(opts),
		newBackupCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func newRepoCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the repository registry",
	}

	var url, commitSHA string
	var plugins []string
	add := &cobra.Command{
		Use:   "add <owner> <repo>",
		Short: "Register a plugin repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			metadata := map[string]any{}
			if url != "" {
				metadata["url"] = url
			}
			if commitSHA != "" {
				metadata["commitSha"] = commitSHA
			}
			if len(plugins) > 0 {
				metadata["plugins"] = plugins
			}
			if err := m.AddRepository(args[0], args[1], metadata); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s/%s\n", args[0], args[1])
			return nil
		},
	}
	add.Flags().StringVar(&url, "url", "", "repository URL")
	add.Flags().StringVar(&commitSHA, "commit", "", "discovered commit SHA")
	add.Flags().StringSliceVar(&plugins, "plugin", nil, "discovered plugin name (repeatable)")

	remove := &cobra.Command{
		Use:   "remove <owner> <repo>",
		Short: "Remove a repository from the registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			if err := m.RemoveRepository(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", args[0], args[1])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			repos, err := m.Repositories()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(repos))
			for k := range repos {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				entry := repos[k]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tplugins=[%s]\tupdated=%s\n",
					k, strings.Join(entry.Plugins, ","),
					entry.LastUpdated.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newPluginCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Enable or disable plugins",
	}

	enable := &cobra.Command{
		Use:   "enable <owner/repo> <name>",
		Short: "Enable a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			return m.EnablePlugin(args[0], args[1])
		},
	}

	disable := &cobra.Command{
		Use:   "disable <owner/repo> <name>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			return m.DisablePlugin(args[0], args[1])
		},
	}

	cmd.AddCommand(enable, disable)
	return cmd
}

func newSyncCmd(opts *cliOptions) *cobra.Command {
	var atomic bool
	cmd := &cobra.Command{
		Use:   "sync <team-config-file>",
		Short: "Apply a team configuration (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var teamConfig map[string][]string
			if err := yaml.Unmarshal(data, &teamConfig); err != nil {
				return fmt.Errorf("failed to parse team config: %w", err)
			}

			m, err := opts.manager()
			if err != nil {
				return err
			}

			if atomic {
				// All-or-nothing: a single failed entry rolls back the
				// whole sync.
				return m.Transaction(func(tx *config.Tx) error {
					keys := make([]string, 0, len(teamConfig))
					for k := range teamConfig {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, key := range keys {
						owner, repo, ok := strings.Cut(key, "/")
						if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
							return fmt.Errorf("invalid team config key %q", key)
						}
						if err := tx.AddRepository(owner, repo, nil); err != nil {
							return err
						}
						for _, name := range teamConfig[key] {
							if err := tx.EnablePlugin(key, name); err != nil {
								return err
							}
						}
					}
					return nil
				})
			}

			result := m.SyncTeamConfig(teamConfig)
			fmt.Fprintf(cmd.OutOrStdout(), "installed=%d failed=%d\n",
				result.InstalledCount, result.FailedCount)
			for _, msg := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "sync: %s\n", msg)
			}
			if !result.Success {
				return fmt.Errorf("%d team config entries failed", result.FailedCount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&atomic, "atomic", false,
		"roll back the entire sync if any entry fails")
	return cmd
}

func newBackupCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore, and prune config backups",
	}

	var reason string
	create := &cobra.Command{
		Use:   "create <file>",
		Short: "Back up a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			var metadata map[string]string
			if reason != "" {
				metadata = map[string]string{"reason": reason}
			}
			rec, err := m.BackupConfig(args[0], metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", rec.BackupPath)
			return nil
		},
	}
	create.Flags().StringVar(&reason, "reason", "", "reason recorded in the backup metadata")

	list := &cobra.Command{
		Use:   "list [file]",
		Short: "List backups, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			records, err := m.ListBackups(filter)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					rec.Timestamp.Format(time.RFC3339), rec.OriginalPath, rec.BackupPath)
			}
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore a config file from its latest backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			ok, err := m.RestoreConfig(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("backup failed checksum verification, %s left untouched", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[0])
			return nil
		},
	}

	var keep, maxAgeDays int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune old backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			removed, err := m.CleanupBackups(keep, time.Duration(maxAgeDays)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d backups\n", removed)
			return nil
		},
	}
	cleanup.Flags().IntVar(&keep, "keep", 5, "backups to always retain per file")
	cleanup.Flags().IntVar(&maxAgeDays, "max-age-days", 30, "remove backups older than this")

	cmd.AddCommand(create, list, restore, cleanup)
	return cmd
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Structurally validate a config document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			result := config.ValidateConfig(data)
			for _, issue := range result.Issues {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					issue.Severity, issue.Path, issue.Message)
			}
			if !result.Valid {
				return fmt.Errorf("%s is not a valid config document", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	}
}
