package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clvecadd/internal/compute"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List compute platforms and devices",
	Long: `Enumerate every platform exposed by the backend and the devices it offers.
The first device listed is the one a session selects.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	provider, err := compute.Open(cfg.Backend)
	if err != nil {
		return err
	}
	return listDevices(cmd.OutOrStdout(), provider)
}

// listDevices writes one block per platform followed by a device table.
func listDevices(w io.Writer, provider compute.Provider) error {
	platforms, err := provider.Platforms()
	if err != nil {
		return fmt.Errorf("failed to enumerate platforms: %w", err)
	}
	if len(platforms) == 0 {
		fmt.Fprintln(w, "No platforms found.")
		return nil
	}

	total := 0
	for i, platform := range platforms {
		info, err := platform.Info()
		if err != nil {
			return fmt.Errorf("failed to query platform %d: %w", i, err)
		}
		fmt.Fprintf(w, "Platform #%d: %s\n  Vendor:  %s\n  Version: %s\n", i, info.Name, info.Vendor, info.Version)

		devices, err := platform.Devices()
		if err != nil {
			return fmt.Errorf("failed to enumerate devices of %s: %w", info.Name, err)
		}
		if len(devices) == 0 {
			fmt.Fprintln(w, "  (no devices)")
			fmt.Fprintln(w)
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tDEVICE\tTYPE\tCOMPUTE UNITS\tIMAGES\tVERSION")
		for j, device := range devices {
			d, err := device.Info()
			if err != nil {
				return fmt.Errorf("failed to query device %d of %s: %w", j, info.Name, err)
			}
			images := "no"
			if d.ImageSupport {
				images = "yes"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%s\t%s\n", j, d.Name, d.Type, d.MaxComputeUnits, images, d.Version)
		}
		tw.Flush()
		fmt.Fprintln(w)
		total += len(devices)
	}

	fmt.Fprintf(w, "Total devices: %d\n", total)
	return nil
}
