// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/client"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

var statusStats bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device state flags",
	Long: `Connect, read the state parameters once and print them.

With --stats the frame engine counters of the session are printed as well.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var systemParametersCmd = &cobra.Command{
	Use:   "system-parameters [id...]",
	Short: "Read system parameters by ID",
	Long: `Read up to 12 system parameters. Without arguments the state poll set
(0 1 2 3 4 5 7 9) is read.`,
	Args: cobra.MaximumNArgs(12),
	RunE: runSystemParameters,
}

var identificationCmd = &cobra.Command{
	Use:   "identification",
	Short: "Show SAP number, serial number, production date and description",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			id, err := c.GetDeviceIdentification(ctx)
			if err != nil {
				return err
			}
			return printReport("Device Identification", id, []field{
				{"SAP Number", id.SapNumber},
				{"Serial Number", id.SerialNumber},
				{"Production Date", id.ProductionDate},
				{"Description", id.Description},
			})
		})
	},
}

var initialOperationDateCmd = &cobra.Command{
	Use:   "initial-operation-date",
	Short: "Show the date the device was first put into operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			date, err := c.GetDeviceInitialOperationDate(ctx)
			if err != nil {
				return err
			}
			return printReport("Initial Operation Date",
				map[string]string{"initial_operation_date": date},
				[]field{{"Date", date}})
		})
	},
}

var socVersionsCmd = &cobra.Command{
	Use:   "soc-versions",
	Short: "Show the SOC application versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			v, err := c.GetSOCApplicationVersions(ctx)
			if err != nil {
				return err
			}
			return printReport("SOC Application Versions",
				map[string]string{"soc_versions": v},
				[]field{{"Versions", v}})
		})
	},
}

var descaleStatisticsCmd = &cobra.Command{
	Use:   "descale-statistics",
	Short: "Show the descaling counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			s, err := c.GetStatisticsDescale(ctx)
			if err != nil {
				return err
			}
			return printReport("Descale Statistics", s, []field{
				{"Days Until Next Descale", s.DaysUntilNextDescale},
				{"Days Until Shower Restricted", s.DaysUntilShowerRestricted},
				{"Unposted Shower Cycles", s.UnpostedShowerCycles},
				{"Cycles Until Confirmation", s.ShowerCyclesUntilConfirmation},
				{"Descale Cycles", s.NumberOfDescaleCycles},
				{"Last Descale", s.LastDescale().Format("2006-01-02 15:04:05")},
			})
		})
	},
}

var profileSettingCmd = &cobra.Command{
	Use:   "profile-setting",
	Short: "Read or write a stored profile setting",
}

var profileSettingGetCmd = &cobra.Command{
	Use:       "get <setting>",
	Short:     "Read a setting of the default profile",
	Args:      cobra.ExactArgs(1),
	ValidArgs: api.ProfileSettingNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, err := api.ParseProfileSetting(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			v, err := c.GetStoredProfileSetting(ctx, setting)
			if err != nil {
				return err
			}
			return printReport("Profile Setting",
				map[string]any{"setting": setting.String(), "value": v},
				[]field{{setting.String(), v}})
		})
	},
}

var profileSettingSetCmd = &cobra.Command{
	Use:       "set <setting> <value>",
	Short:     "Write a setting of the default profile",
	Args:      cobra.ExactArgs(2),
	ValidArgs: api.ProfileSettingNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, err := api.ParseProfileSetting(args[0])
		if err != nil {
			return err
		}
		value, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[1], err)
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.SetStoredProfileSetting(ctx, setting, uint16(value)); err != nil {
				return err
			}
			fmt.Printf("%s set to %d\n", setting, value)
			return nil
		})
	},
}

var commandCmd = &cobra.Command{
	Use:       "command <name>",
	Short:     "Execute a device command",
	Long:      "Execute a device command. Valid names:\n  " + strings.Join(api.CommandNames(), "\n  "),
	Args:      cobra.ExactArgs(1),
	ValidArgs: api.CommandNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api.ParseCommand(args[0])
		if err != nil {
			return &usageError{code: errcodes.CommandUnknown, details: err.Error()}
		}
		return runCommand(c)
	},
}

var toggleLidCmd = &cobra.Command{
	Use:   "toggle-lid",
	Short: "Open or close the lid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(api.CmdToggleLidPosition)
	},
}

var toggleAnalCmd = &cobra.Command{
	Use:   "toggle-anal",
	Short: "Start or stop the anal shower",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(api.CmdToggleAnalShower)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusStats, "stats", false, "Print frame engine statistics")

	profileSettingCmd.AddCommand(profileSettingGetCmd, profileSettingSetCmd)

	rootCmd.AddCommand(
		statusCmd,
		systemParametersCmd,
		identificationCmd,
		initialOperationDateCmd,
		socVersionsCmd,
		descaleStatisticsCmd,
		profileSettingCmd,
		commandCmd,
		toggleLidCmd,
		toggleAnalCmd,
	)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		state, err := c.PollState(ctx)
		if err != nil {
			return err
		}

		err = printReport("AquaClean "+c.Address(), state, []field{
			{"User Sitting", onOff(state.UserSitting)},
			{"Anal Shower", onOff(state.AnalShowerRunning)},
			{"Lady Shower", onOff(state.LadyShowerRunning)},
			{"Dryer", onOff(state.DryerRunning)},
		})
		if err != nil {
			return err
		}

		if statusStats && !jsonOutput {
			stats := c.Stats()
			fmt.Print(stats.String())
		}
		return nil
	})
}

func runSystemParameters(cmd *cobra.Command, args []string) error {
	ids := api.StatePollParameters
	if len(args) > 0 {
		ids = make([]uint8, len(args))
		for i, a := range args {
			v, err := strconv.ParseUint(a, 10, 8)
			if err != nil {
				return fmt.Errorf("invalid parameter id %q: %w", a, err)
			}
			ids[i] = uint8(v)
		}
	}

	return withClient(func(ctx context.Context, c *client.Client) error {
		list, err := c.GetSystemParameterList(ctx, ids...)
		if err != nil {
			return err
		}

		fields := make([]field, 0, len(list.Parameters))
		for _, p := range list.Parameters {
			fields = append(fields, field{fmt.Sprintf("Parameter %d", p.ID), p.Value})
		}
		return printReport("System Parameters", list, fields)
	})
}

func runCommand(command api.Command) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		if err := c.SetCommand(ctx, command); err != nil {
			if errcodes.Classify(err) == errcodes.General {
				return &usageError{code: errcodes.CommandFailed, details: err.Error()}
			}
			return err
		}
		fmt.Printf("%s sent\n", command)
		return nil
	})
}
