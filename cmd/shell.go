package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var pidofWatch bool

var shellCmd = &cobra.Command{
	Use:   "shell <device> -- <command> [args...]",
	Short: "Run a command on a device and stream its output",
	Long: `Each argument is passed to the device shell as one quoted word. Arguments
must not contain double quotes.`,
	Args: cobra.MinimumNArgs(2),
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
		return e.client.RunShell(ctx, dev.Serial(), 0, func(ctx context.Context, rw io.ReadWriter) error {
			_, err := io.Copy(os.Stdout, rw)
			return err
		}, args[1:]...)
	},
}

var pidofCmd = &cobra.Command{
	Use:   "pidof <device> <package>",
	Short: "Print the process ids of a package",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		dev, err := findDevice(ctx, e, args[0])
		if err != nil {
			return err
		}
		changes, err := e.client.WatchPID(ctx, dev.ID(), args[1])
		if err != nil {
			return err
		}
		for pids := range changes {
			fmt.Println(formatPIDs(pids))
			if !pidofWatch {
				return nil
			}
		}
		return nil
	},
}

func formatPIDs(pids []int) string {
	if len(pids) == 0 {
		return "not running"
	}
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = fmt.Sprint(pid)
	}
	return strings.Join(parts, " ")
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot <device> <file.png>",
	Short: "Save a PNG screenshot of a device",
	Args:  cobra.ExactArgs(2),
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
		png, err := e.client.Screenshot(ctx, dev.ID())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], png, 0o644); err != nil {
			return fmt.Errorf("write screenshot: %w", err)
		}
		fmt.Printf("Saved %s (%d bytes) from %s\n", args[1], len(png), dev.Label())
		return nil
	},
}

func init() {
	shellCmd.Flags().SetInterspersed(false)
	pidofCmd.Flags().BoolVarP(&pidofWatch, "watch", "w", false, "Keep printing on every change")
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(pidofCmd)
	rootCmd.AddCommand(screenshotCmd)
}
