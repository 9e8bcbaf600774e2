package docker

import (
	"log/slog"
)

const DefaultImage = "ghcr.io/siderolabs/talos:v1.10.3"

type Config struct {
	// Logger to use
	Logger *slog.Logger
	// Node group whose units this backend manages
	Group string
	// Talos image the units run
	Image string
	// Docker network the units are attached to, the daemon default when empty
	Network string
}
