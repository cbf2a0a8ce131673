package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"pluginhost/internal/core"
	"pluginhost/pkg/domain"
)

func keyFromArgs(args []string) domain.Key {
	return domain.NewKey(args[0], args[1])
}

func newTypesCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List plugin types found on disk or in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := p.manager.GetPluginTypes(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range types {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), t); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newGetCmd(p *program) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get TYPE NAME",
		Short: "Show the on-disk manifest of a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := p.manager.GetPlugin(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return encodeDescriptor(cmd.OutOrStdout(), format, desc)
		},
	}
	registerOutputFlag(cmd.Flags(), &format, outputYAML)
	return cmd
}

func newStateCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "state TYPE NAME",
		Short: "Evaluate the lifecycle state of a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := p.manager.PluginStatus(cmd.Context(), keyFromArgs(args))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), describeStatus(st))
			return err
		},
	}
}

func newInstallCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "install TYPE NAME",
		Short: "Record the on-disk version of a plugin as installed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := p.manager.InstallPlugin(cmd.Context(), keyFromArgs(args))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s\n", rec.Key(), rec.Version)
			return err
		},
	}
}

func newUninstallCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall TYPE NAME",
		Short: "Remove the registry record of a plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := keyFromArgs(args)
			if err := p.manager.UninstallPlugin(cmd.Context(), key); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", key)
			return err
		},
	}
}

func newListCmd(p *program) *cobra.Command {
	var (
		all    bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins, or every known plugin with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all {
				statuses, err := p.manager.Statuses(cmd.Context())
				if err != nil {
					return err
				}
				return encodeRows(cmd.OutOrStdout(), format, statusRows(statuses), true)
			}
			installed, err := p.manager.GetInstalledPlugins(cmd.Context())
			if err != nil {
				return err
			}
			return encodeRows(cmd.OutOrStdout(), format, recordRows(installed), false)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include plugins that are only on disk or only in the registry")
	registerOutputFlag(cmd.Flags(), &format, outputTable)
	return cmd
}

func newCheckUpgradeCmd(p *program) *cobra.Command {
	return &cobra.Command{
		Use:   "check-upgrade",
		Short: "Fail when any installed plugin differs from its on-disk version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pending, err := p.manager.UpgradesRequired(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				_, err := fmt.Fprintln(out, "no upgrades required")
				return err
			}
			for _, st := range pending {
				if _, err := fmt.Fprintln(out, describeStatus(st)); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: %d", errUpgradesPending, len(pending))
		},
	}
}

func statusRows(statuses []core.Status) []row {
	rows := make([]row, 0, len(statuses))
	for _, st := range statuses {
		r := row{Type: st.Key.Type, Name: st.Key.Name, State: st.State}
		if st.Descriptor != nil {
			r.Version = st.Descriptor.Version
		}
		if st.Record != nil {
			at := st.Record.InstalledAt
			r.InstalledVersion = st.Record.Version
			r.InstalledAt = &at
		}
		rows = append(rows, r)
	}
	return rows
}

func recordRows(installed domain.Installed) []row {
	keys := installed.Keys()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Name < keys[j].Name
	})
	rows := make([]row, 0, len(keys))
	for _, key := range keys {
		rec, _ := installed.Lookup(key)
		at := rec.InstalledAt
		rows = append(rows, row{Type: rec.Type, Name: rec.Name, InstalledVersion: rec.Version, InstalledAt: &at})
	}
	return rows
}
