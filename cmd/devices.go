package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FluidXR/droidtail/internal/adb"

	"github.com/spf13/cobra"
)

var devicesWatch bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices known to the ADB server",
	Long: `Lists devices with their connection type and liveness. Network devices are
probed, so a device the server still calls "device" may show as offline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		if !devicesWatch {
			// Give network devices one probe round to report.
			ctx, cancel := context.WithTimeout(ctx, e.cfg.Discovery.ProbeTimeout+e.cfg.Server.DialTimeout)
			defer cancel()
			list, err := settledDevices(ctx, e.client)
			if err != nil {
				return err
			}
			printDevices(list)
			return nil
		}

		first := true
		for list := range e.client.Devices(ctx) {
			if !first {
				fmt.Println()
			}
			first = false
			fmt.Printf("-- %s\n", time.Now().Format(time.TimeOnly))
			printDevices(list)
		}
		return nil
	},
}

// settledDevices returns the first non-empty list, or the last list seen
// when ctx expires.
func settledDevices(ctx context.Context, client *adb.Client) ([]adb.Descriptor, error) {
	var last []adb.Descriptor
	for list := range client.Devices(ctx) {
		last = list
		if len(list) > 0 {
			return list, nil
		}
	}
	if err := cmdCanceled(ctx); err != nil {
		return nil, err
	}
	return last, nil
}

func printDevices(list []adb.Descriptor) {
	if len(list) == 0 {
		fmt.Println("No devices connected.")
		return
	}
	for _, d := range list {
		switch d := d.(type) {
		case *adb.Device:
			fmt.Printf("%-28s %-24s [%s] [%s] transport %d\n",
				d.ID(), d.Label(), d.ConnectionType(), d.State(), d.TransportID())
		default:
			id := d.EstimatedID()
			if id == "" {
				id = "-"
			}
			fmt.Printf("%-28s %-24s [%s] [%s] transport %d\n",
				id, d.Serial(), d.ConnectionType(), strings.ToUpper(d.State().String()), d.TransportID())
		}
	}
}

// matchDevice reports whether arg names d: its id, its id without the
// "serial:" prefix, or its transport serial.
func matchDevice(d adb.Descriptor, arg string) bool {
	if d.Serial() == arg {
		return true
	}
	id := d.EstimatedID()
	return id != "" && (id == arg || id == "serial:"+arg)
}

// findDevice waits until the device named by arg is online. It gives up
// after one probe timeout plus the dial timeout.
func findDevice(ctx context.Context, e *env, arg string) (*adb.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Discovery.ProbeTimeout+e.cfg.Server.DialTimeout)
	defer cancel()
	var offline adb.Descriptor
	for list := range e.client.Devices(ctx) {
		offline = nil
		for _, d := range list {
			if !matchDevice(d, arg) {
				continue
			}
			if dev, ok := d.(*adb.Device); ok {
				return dev, nil
			}
			offline = d
		}
	}
	if err := cmdCanceled(ctx); err != nil {
		return nil, err
	}
	if offline != nil {
		return nil, &adb.DeviceOfflineError{DeviceID: arg}
	}
	return nil, fmt.Errorf("device %s not found", arg)
}

// cmdCanceled returns the cancellation cause of ctx unless it merely timed out.
func cmdCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func init() {
	devicesCmd.Flags().BoolVarP(&devicesWatch, "watch", "w", false, "Print the list again on every change")
	rootCmd.AddCommand(devicesCmd)
}
