package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/FluidXR/droidtail/internal/adb"

	"github.com/spf13/cobra"
)

var (
	packagesDebuggable bool
	packagesLabels     bool
)

var packagesCmd = &cobra.Command{
	Use:   "packages <device>",
	Short: "List installed packages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		dev, err := findDevice(ctx, e, args[0])
		if err != nil {
			return err
		}
		pkgs, err := e.client.ListPackages(ctx, dev.ID())
		if err != nil {
			return err
		}
		if packagesDebuggable {
			pkgs = slices.DeleteFunc(pkgs, func(p adb.AppPackage) bool { return !p.Debuggable() })
		}
		slices.SortFunc(pkgs, func(a, b adb.AppPackage) int { return strings.Compare(a.ID, b.ID) })

		if !packagesLabels {
			for _, p := range pkgs {
				printPackage(p, "")
			}
			return nil
		}

		svc, closeSvc, err := labelService(e, dev)
		if err != nil {
			return err
		}
		defer closeSvc()
		if err := svc.CacheAll(); err != nil {
			return err
		}
		for _, p := range pkgs {
			label, err := svc.Get(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("%s: %w", p.ID, err)
			}
			printPackage(p, label)
		}
		return nil
	},
}

func printPackage(p adb.AppPackage, label string) {
	debug := ""
	if p.Debuggable() {
		debug = " [debuggable]"
	}
	if label != "" && label != p.ID {
		fmt.Printf("%-48s uid %-6d %s%s\n", p.ID, p.UID, label, debug)
		return
	}
	fmt.Printf("%-48s uid %-6d%s\n", p.ID, p.UID, debug)
}

func init() {
	packagesCmd.Flags().BoolVarP(&packagesDebuggable, "debuggable", "d", false, "Only list debuggable packages")
	packagesCmd.Flags().BoolVarP(&packagesLabels, "labels", "l", false, "Resolve display labels with the on-device helper")
	rootCmd.AddCommand(packagesCmd)
}
