package applier

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	v4 "github.com/cimnine/netbox-dhclient/dhcp/v4"
)

const (
	ReasonBound  = "BOUND"
	ReasonExpire = "EXPIRE"
)

// Script runs a hook command in the manner of dhclient-script. The lease is
// passed in environment variables prefixed with new_ on Apply and old_ on
// Revoke, next to reason and interface.
type Script struct {
	Command string
	Iface   string
	Log     *logrus.Entry
}

func (s Script) Apply(ctx context.Context, l v4.Lease) error {
	return s.run(ctx, ReasonBound, "new_", l)
}

func (s Script) Revoke(ctx context.Context, l v4.Lease) error {
	return s.run(ctx, ReasonExpire, "old_", l)
}

func (s Script) run(ctx context.Context, reason, prefix string, l v4.Lease) error {
	args, err := shlex.Split(s.Command)
	if err != nil {
		return errors.Wrapf(err, "can't parse command '%s'", s.Command)
	}
	if len(args) == 0 {
		return errors.New("no command configured")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), Environment(reason, s.Iface, prefix, l)...)

	out, err := cmd.CombinedOutput()
	if s.Log != nil && len(out) > 0 {
		s.Log.WithField("reason", reason).Debugf("%s: %s", args[0], strings.TrimSpace(string(out)))
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", args[0], reason)
	}
	return nil
}

// Environment returns the variables a hook command is run with.
func Environment(reason, iface, prefix string, l v4.Lease) []string {
	env := []string{
		"reason=" + reason,
		"interface=" + iface,
		prefix + "ip_address=" + l.Address.String(),
		prefix + "subnet_mask=" + net.IP(l.Prefix().Mask).String(),
		fmt.Sprintf("%sdhcp_lease_time=%d", prefix, int64(l.Timeouts.Lease.Seconds())),
		fmt.Sprintf("%sdhcp_renewal_time=%d", prefix, int64(l.Timeouts.T1RenewalTime.Seconds())),
		fmt.Sprintf("%sdhcp_rebinding_time=%d", prefix, int64(l.Timeouts.T2RebindingTime.Seconds())),
	}
	if l.ServerID != nil {
		env = append(env, prefix+"dhcp_server_identifier="+l.ServerID.String())
	}
	if len(l.Routers) > 0 {
		env = append(env, prefix+"routers="+joinIPs(l.Routers))
	}
	if len(l.DNS) > 0 {
		env = append(env, prefix+"domain_name_servers="+joinIPs(l.DNS))
	}
	if len(l.NTPServers) > 0 {
		env = append(env, prefix+"ntp_servers="+joinIPs(l.NTPServers))
	}
	if l.HostName != "" {
		env = append(env, prefix+"host_name="+l.HostName)
	}
	if l.DomainName != "" {
		env = append(env, prefix+"domain_name="+l.DomainName)
	}
	return env
}

func joinIPs(ips []net.IP) string {
	strs := make([]string, len(ips))
	for i, ip := range ips {
		strs[i] = ip.String()
	}
	return strings.Join(strs, " ")
}
