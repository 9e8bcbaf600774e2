package openstack

import (
	"log/slog"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type Config struct {
	Logger *slog.Logger
	// Node group whose units this backend manages
	Group string

	Image          string
	Flavor         string
	Networks       []servers.Network
	SecurityGroups []string
	// Seconds to wait for a new server to become ACTIVE
	BootTimeout int
}
