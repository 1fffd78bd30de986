package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/FluidXR/droidtail/internal/adb"
	"github.com/FluidXR/droidtail/internal/config"
	"github.com/FluidXR/droidtail/internal/labels"
	"github.com/FluidXR/droidtail/internal/labelstore"

	"github.com/spf13/cobra"
)

// labelService starts a label service for dev. The returned func closes
// the service and its store.
func labelService(e *env, dev *adb.Device) (*labels.Service, func(), error) {
	if e.cfg.Labels.HelperPath == "" {
		return nil, nil, errors.New("labels.helper_path is not set; point it at the compiled label helper")
	}
	helper, err := labels.LoadHelper(e.cfg.Labels.HelperPath, e.cfg.Labels.HelperEntryPoint)
	if err != nil {
		return nil, nil, err
	}
	opts := []labels.Option{
		labels.WithLogger(e.log),
		labels.WithRetryDelay(e.cfg.Labels.RetryDelay),
		labels.WithReadTimeout(e.cfg.Labels.ReadTimeout),
	}
	var db *labelstore.DB
	if e.cfg.Labels.CacheDB {
		db, err = labelstore.Open(config.ConfigDir())
		if err != nil {
			e.log.Warn().Err(err).Msg("label cache unavailable")
		} else {
			opts = append(opts, labels.WithStore(db))
		}
	}
	svc := labels.New(e.client, dev.ID(), helper, opts...)
	return svc, func() {
		svc.Close()
		if db != nil {
			db.Close()
		}
	}, nil
}

var labelCmd = &cobra.Command{
	Use:   "label <device> <package>...",
	Short: "Resolve the display labels of packages",
	Args:  cobra.MinimumNArgs(2),
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
		svc, closeSvc, err := labelService(e, dev)
		if err != nil {
			return err
		}
		defer closeSvc()

		for _, pkg := range args[1:] {
			label, err := svc.Get(ctx, pkg)
			if err != nil {
				return fmt.Errorf("%s: %w", pkg, err)
			}
			fmt.Printf("%s\t%s\n", pkg, label)
		}
		return nil
	},
}

var labelCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show the persistent label cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := labelstore.Open(config.ConfigDir())
		if err != nil {
			return fmt.Errorf("open label cache: %w", err)
		}
		defer db.Close()

		stats, err := db.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Label cache: %s\n\n", db.Path())
		if len(stats) == 0 {
			fmt.Println("  (empty)")
		}
		for _, st := range stats {
			fmt.Printf("  %-28s %5d labels  updated %s\n", st.DeviceID, st.Labels, st.LastUpdated.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var labelForgetCmd = &cobra.Command{
	Use:   "forget <device-id>",
	Short: "Drop every cached label of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := labelstore.Open(config.ConfigDir())
		if err != nil {
			return fmt.Errorf("open label cache: %w", err)
		}
		defer db.Close()

		n, err := db.Forget(args[0])
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintf(os.Stderr, "No labels cached for %s\n", args[0])
			return nil
		}
		fmt.Printf("Removed %d labels for %s\n", n, args[0])
		return nil
	},
}

func init() {
	labelCacheCmd.AddCommand(labelForgetCmd)
	labelCmd.AddCommand(labelCacheCmd)
	rootCmd.AddCommand(labelCmd)
}
