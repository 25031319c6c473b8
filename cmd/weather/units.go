package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/app"
	"github.com/kjstillabower/weather-forecast/internal/config"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Show or change the measurement unit preference",
}

var unitsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the active unit system",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ *config.Config, _ *zap.Logger) error {
			list, err := a.Settings.Units(ctx)
			if err != nil {
				return err
			}
			current := units.FromPreferences(list, a.Settings.Default())
			suffix := ""
			if len(list) == 0 {
				suffix = " (default)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", current.ToggleLabel(), suffix)
			return nil
		})
	},
}

var unitsSetCmd = &cobra.Command{
	Use:       "set metric|imperial",
	Short:     "Store the unit system",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"metric", "imperial"},
	RunE: func(cmd *cobra.Command, args []string) error {
		system, err := units.ParseChoice(args[0])
		if err != nil {
			return fmt.Errorf("unit must be metric or imperial, got %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ *config.Config, _ *zap.Logger) error {
			p, err := a.Settings.Save(ctx, system)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", p.Unit)
			return nil
		})
	},
}

var unitsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored preference (back to the default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ *config.Config, _ *zap.Logger) error {
			if err := a.Settings.DeleteAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared; using %s\n", a.Settings.Default().ToggleLabel())
			return nil
		})
	},
}

func init() {
	unitsCmd.AddCommand(unitsGetCmd, unitsSetCmd, unitsClearCmd)
	rootCmd.AddCommand(unitsCmd)
}
