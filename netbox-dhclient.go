package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	redisCache "github.com/cimnine/netbox-dhclient/cache/redis"
	"github.com/cimnine/netbox-dhclient/configuration"
	"github.com/cimnine/netbox-dhclient/dhcp"
	"github.com/cimnine/netbox-dhclient/leasestore"
	"github.com/cimnine/netbox-dhclient/netbox"
)

var (
	configFileName string
	quiet          bool
)

func main() {
	root := &cobra.Command{
		Use:   "netbox-dhclient",
		Short: "DHCPv4 client that records its leases in NetBox",
	}
	root.PersistentFlags().StringVar(&configFileName, "config", "/etc/netbox-dhclient.conf.yaml", "where to load the config from")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	run := &cobra.Command{
		Use:          "run",
		Short:        "Acquire and maintain a lease on every configured interface",
		RunE:         runDaemon,
		SilenceUsage: true,
	}

	lease := &cobra.Command{
		Use:   "lease",
		Short: "Inspect stored leases",
	}
	lease.AddCommand(&cobra.Command{
		Use:          "show [iface...]",
		Short:        "Print the stored lease of the given or all configured interfaces",
		RunE:         runLeaseShow,
		SilenceUsage: true,
	})

	root.AddCommand(run, lease, debugCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*configuration.Configuration, error) {
	config, err := configuration.ReadConfig(configFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load configuration from '%s'", configFileName)
	}
	if err := setupLogging(&config); err != nil {
		return nil, err
	}

	logrus.Debugf("Config loaded successfully from '%s'.", configFileName)
	return &config, nil
}

func setupLogging(config *configuration.Configuration) error {
	level := logrus.InfoLevel
	if raw := config.Daemon.Log.Level; raw != "" {
		var err error
		if level, err = logrus.ParseLevel(raw); err != nil {
			return errors.Wrap(err, "daemon.log.level")
		}
	}
	if quiet && level > logrus.WarnLevel {
		level = logrus.WarnLevel
	}
	logrus.SetLevel(level)

	if path := config.Daemon.Log.Path; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return errors.Wrap(err, "can't open log file")
		}
		logrus.SetOutput(f)
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	var opts []dhcp.DaemonOption
	if config.Cache.Redis.Enabled() {
		redisClient, err := redisCache.NewClient(&config.Cache.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		opts = append(opts, dhcp.WithRedis(redisClient))
	}
	if config.Netbox.Enabled() {
		netboxClient := netbox.NewClient(&config.Netbox)
		if !netboxClient.CheckSites() {
			return errors.New("the config contains inactive or missing sites, please check the log")
		}
		opts = append(opts, dhcp.WithNetbox(netboxClient))
	}

	d, err := dhcp.NewDaemon(config, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logrus.Info("Quit with CTRL+C.")

	if err := d.Run(ctx); err != nil {
		return err
	}
	logrus.Info("Bye 👋")
	return nil
}

func runLeaseShow(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	var stores []leasestore.Store
	if config.Daemon.LeaseDir != "" {
		stores = append(stores, leasestore.File{Dir: config.Daemon.LeaseDir})
	}
	if config.Cache.Redis.Enabled() {
		redisClient, err := redisCache.NewClient(&config.Cache.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		stores = append(stores, leasestore.Redis{Client: redisClient})
	}
	if len(stores) == 0 {
		return errors.New("neither daemon.lease_dir nor cache.redis is configured")
	}
	store := leasestore.Chain{Stores: stores}

	ifaces := args
	if len(ifaces) == 0 {
		for name := range config.Daemon.Interfaces {
			ifaces = append(ifaces, name)
		}
		sort.Strings(ifaces)
	}

	out := cmd.OutOrStdout()
	now := time.Now()
	for _, iface := range ifaces {
		l, err := store.Load(iface)
		if err != nil {
			logrus.WithError(err).WithField("iface", iface).Warn("Can't load lease")
		}
		if l == nil {
			fmt.Fprintf(out, "%s: no lease\n", iface)
			continue
		}

		fmt.Fprintf(out, "%s: %s from %s\n", iface, l.Prefix(), l.ServerID)
		fmt.Fprintf(out, "  routers:  %v\n", l.Routers)
		fmt.Fprintf(out, "  dns:      %v\n", l.DNS)
		fmt.Fprintf(out, "  acquired: %s\n", l.Acquired.Format(time.RFC3339))
		fmt.Fprintf(out, "  renew:    %s\n", l.RenewAt().Format(time.RFC3339))
		fmt.Fprintf(out, "  rebind:   %s\n", l.RebindAt().Format(time.RFC3339))
		fmt.Fprintf(out, "  expires:  %s (in %s)\n", l.ExpireAt().Format(time.RFC3339), l.ExpireAt().Sub(now).Round(time.Second))
	}
	return nil
}
