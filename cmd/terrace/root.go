// Package cli implements the terrace command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terracebot/terrace/internal/config"
	"github.com/terracebot/terrace/internal/db"
	"github.com/terracebot/terrace/internal/instance"
	"github.com/terracebot/terrace/internal/logging"
	"github.com/terracebot/terrace/internal/provision"
)

var (
	configPath string
	verbose    bool

	fallbackConfig []byte
)

// SetFallbackConfig installs the embedded default configuration used when
// no config file exists on disk.
func SetFallbackConfig(b []byte) { fallbackConfig = b }

var rootCmd = &cobra.Command{
	Use:   "terrace",
	Short: "Fingerprinted browser fleet manager for club ticketing",
	Long: `terrace drives isolated, fingerprint-randomized browser instances
through a remote anti-detect provisioning service, one per ticketing
profile, and tears them down again without leaking remote profiles,
processes, or protocol connections.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.Verbose()
		}
	},
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.terrace/terrace.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd, launchCmd, closeCmd, closeAllCmd, profilesCmd)
}

// app bundles the wired subsystems behind the commands.
type app struct {
	cfg      *config.ResolvedConfig
	store    *db.Store
	reg      *instance.Registry
	launcher *instance.Launcher
	coord    *instance.Coordinator
}

func loadConfig() (*config.ResolvedConfig, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	dir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "terrace.yaml")
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	}
	return config.LoadFromBytes(fallbackConfig)
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	policy, err := instance.ParsePolicy(cfg.Termination)
	if err != nil {
		return nil, err
	}

	store, err := db.NewSQLite(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	// Seed the store from config; recorded remote profile ids survive.
	for id, p := range cfg.Profiles {
		err := store.UpsertProfile(ctx, db.Profile{
			ID:       id,
			Email:    p.Email,
			Password: p.Password,
			Proxy:    p.Proxy,
			Domain:   p.Domain,
		})
		if err != nil {
			return nil, err
		}
	}

	svc := provision.NewClient(cfg.Provisioner.BaseURL, cfg.Provisioner.Token)
	reg := instance.NewRegistry()
	probe := instance.NewOSProbe()
	cascade := instance.NewCascade(svc, store, reg, probe, policy, cfg.Provisioner.BrowserBinary)

	return &app{
		cfg:      cfg,
		store:    store,
		reg:      reg,
		launcher: instance.NewLauncher(svc, store, reg, cascade),
		coord:    instance.NewCoordinator(cascade, reg, probe, policy),
	}, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch all configured profiles and manage them until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		for id := range a.cfg.Profiles {
			if _, err := a.launcher.Launch(ctx, id); err != nil {
				logging.Errorf("launch %s failed: %v", id, err)
				continue
			}
			logging.Infof("launched %s", id)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logging.Infof("received %v, shutting down %d instance(s)", sig, a.reg.Len())

		// Graceful close-all first, forced pass if anything failed.
		res := a.coord.Dispose(context.Background())
		for _, o := range res.Outcomes {
			if o.Success {
				logging.Infof("closed %s in %s", o.ProfileID, o.Duration.Round(10*time.Millisecond))
			} else {
				logging.Warnf("close %s incomplete: %v", o.ProfileID, o.Err)
			}
		}
		return nil
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <profile-id>",
	Short: "Launch one profile's browser instance",
	Long: `Launch one profile's browser instance.

Live instances are tracked in the memory of the launching process. A browser
launched here keeps running after this command exits, but a later close or
close-all in a fresh process will not know about it. Use "terrace run" for a
session that manages launch and close together.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()

		inst, err := a.launcher.Launch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		logging.Infof("launched %s: remote profile %s at %s", inst.ProfileID, inst.RemoteProfileID, inst.Endpoint)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <profile-id>",
	Short: "Close one profile's browser instance",
	Long: `Close one profile's browser instance.

Only instances launched by this process are known; running this in a fresh
process reports nothing to close. Instances launched by "terrace run" are
closed when that session shuts down.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()

		out := a.launcher.Close(cmd.Context(), args[0])
		switch {
		case out.Skipped:
			logging.Infof("%s: nothing to close", out.ProfileID)
		case out.Success:
			logging.Infof("%s: closed in %s", out.ProfileID, out.Duration.Round(10*time.Millisecond))
		default:
			logging.Warnf("%s: close incomplete: %v", out.ProfileID, out.Err)
		}
		return nil
	},
}

var forceClose bool

var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Close every live instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()

		var res *instance.AggregateResult
		if forceClose {
			res = a.coord.ForceAll(cmd.Context())
		} else {
			res = a.coord.CloseAll(cmd.Context())
		}
		logging.Infof("closed %d, failed %d", res.Succeeded, res.Failed)
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured profiles and their instance status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()

		profiles, err := a.store.ListProfiles(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range profiles {
			status := a.launcher.Status(p.ID)
			state := "stopped"
			if status.Running {
				state = fmt.Sprintf("running (%s)", status.Uptime.Round(time.Second))
			}
			remote := p.RemoteProfileID
			if remote == "" {
				remote = "-"
			}
			fmt.Printf("%-20s %-30s %-26s %s\n", p.ID, p.Domain, remote, state)
		}
		return nil
	},
}

func init() {
	closeAllCmd.Flags().BoolVar(&forceClose, "force", false, "use forced cleanup with a global deadline")
}
