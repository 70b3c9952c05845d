package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cimnine/netbox-dhclient/dhcp/transport"
)

var (
	debugIface   string
	debugServer  string
	debugPort    int
	debugTimeout time.Duration
)

func debugCommand() *cobra.Command {
	debug := &cobra.Command{
		Use:   "debug",
		Short: "Talk to DHCP servers without touching any interface",
	}

	discover := &cobra.Command{
		Use:          "discover",
		Short:        "Send a single DHCPDISCOVER and print every answer",
		RunE:         runDebugDiscover,
		SilenceUsage: true,
	}
	discover.Flags().StringVarP(&debugIface, "iface", "i", "eth0", "The interface to use.")
	discover.Flags().StringVar(&debugServer, "server", "255.255.255.255", "The destination server.")
	discover.Flags().IntVar(&debugPort, "port", transport.ServerPort, "The destination port.")
	discover.Flags().DurationVar(&debugTimeout, "timeout", 5*time.Second, "How long to wait for offers.")

	debug.AddCommand(discover)
	return debug
}

func runDebugDiscover(cmd *cobra.Command, args []string) error {
	if quiet {
		logrus.SetLevel(logrus.WarnLevel)
	}

	iface, err := net.InterfaceByName(debugIface)
	if err != nil {
		return errors.Wrapf(err, "can't find interface '%s'", debugIface)
	}

	pkg, err := dhcpv4.NewDiscoveryForInterface(debugIface)
	if err != nil {
		return errors.Wrap(err, "can't build DHCPDISCOVER")
	}

	var server net.IP
	if debugServer != "broadcast" && debugServer != net.IPv4bcast.String() {
		if server = net.ParseIP(debugServer).To4(); server == nil {
			return errors.Errorf("'%s' is not an IPv4 address", debugServer)
		}
		pkg.SetUnicast()
	}

	conn, err := transport.ListenUDP(transport.UDPConfig{
		Interface:  iface,
		Broadcast:  &net.UDPAddr{IP: net.IPv4bcast, Port: debugPort},
		ServerPort: debugPort,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	logrus.Infof("Sending DHCPDISCOVER via '%s' to '%s' on port '%d'", debugIface, debugServer, debugPort)
	if server == nil {
		err = conn.SendBroadcast(pkg.ToBytes())
	} else {
		err = conn.SendUnicast(server, pkg.ToBytes())
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	deadline := time.Now().Add(debugTimeout)
	offers := 0
	for {
		b, ok, err := conn.Receive(ctx, deadline)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if !ok {
			break
		}

		reply, err := dhcpv4.FromBytes(b)
		if err != nil {
			logrus.WithError(err).Debug("Ignoring undecodable packet")
			continue
		}
		if reply.TransactionID != pkg.TransactionID {
			logrus.Debugf("Ignoring answer to transaction %s", reply.TransactionID)
			continue
		}

		offers++
		fmt.Fprintln(out, reply.Summary())
	}

	fmt.Fprintf(out, "%d answer(s) to transaction %s\n", offers, pkg.TransactionID)
	return nil
}
