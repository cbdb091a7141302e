package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sora/internal/media"
	"sora/internal/module"
	"sora/internal/store"
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage installed source modules",
}

func init() {
	moduleCmd.AddCommand(&cobra.Command{
		Use:   "add <metadata-url>",
		Short: "Install a module from its metadata URL",
		Args:  cobra.ExactArgs(1),
		RunE:  moduleAddRun,
	})
	moduleCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed modules",
		Args:  cobra.NoArgs,
		RunE:  moduleListRun,
	})
	moduleCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Uninstall a module",
		Args:  cobra.ExactArgs(1),
		RunE:  moduleRemoveRun,
	})
	moduleCmd.AddCommand(&cobra.Command{
		Use:   "refresh <id>",
		Short: "Re-fetch a module and update it when its version changed",
		Args:  cobra.ExactArgs(1),
		RunE:  moduleRefreshRun,
	})
	moduleCmd.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Select the module other commands run against",
		Args:  cobra.ExactArgs(1),
		RunE:  moduleUseRun,
	})
}

func moduleAddRun(cmd *cobra.Command, args []string) error {
	mod, err := app.modules.Add(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("adding module: %w", err)
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), mod)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed %s %s (%s)\n", mod.Metadata.SourceName, mod.Metadata.Version, mod.ID)
	return nil
}

func moduleListRun(cmd *cobra.Command, args []string) error {
	mods, err := app.modules.List()
	if err != nil {
		return fmt.Errorf("listing modules: %w", err)
	}
	if flagJSON {
		if mods == nil {
			mods = []media.Module{}
		}
		return printJSON(cmd.OutOrStdout(), mods)
	}
	if len(mods) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No modules installed.")
		return nil
	}

	selected, _, _ := store.GetString(app.store, module.KeySelectedModule)
	rows := make([][]string, 0, len(mods))
	for _, m := range mods {
		mark := ""
		if m.ID == selected {
			mark = "*"
		}
		kind := "sync"
		if m.Metadata.AsyncJS {
			kind = "async"
		}
		rows = append(rows, []string{mark, m.ID, m.Metadata.SourceName, m.Metadata.Version, kind, string(m.Metadata.StreamType)})
	}
	return printTable(cmd.OutOrStdout(), []string{"", "ID", "SOURCE", "VERSION", "JS", "STREAM"}, rows)
}

func moduleRemoveRun(cmd *cobra.Command, args []string) error {
	if err := app.modules.Remove(args[0]); err != nil {
		return fmt.Errorf("removing module: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}

func moduleRefreshRun(cmd *cobra.Command, args []string) error {
	updated, err := app.modules.Refresh(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("refreshing module: %w", err)
	}
	if updated {
		fmt.Fprintln(cmd.OutOrStdout(), "Module updated.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Module already up to date.")
	}
	return nil
}

func moduleUseRun(cmd *cobra.Command, args []string) error {
	mod, err := app.modules.Get(args[0])
	if err != nil {
		return fmt.Errorf("selecting module: %w", err)
	}
	if err := app.store.Set(module.KeySelectedModule, []byte(mod.ID)); err != nil {
		return fmt.Errorf("saving selection: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Using %s\n", mod.Metadata.SourceName)
	return nil
}
