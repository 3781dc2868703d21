package instance

import (
	"os"

	"github.com/angelmondragon/storefront-cart/pkg/env"
)

// ID returns the process identifier used in logs and as the default device
// id: STOREFRONT_INSTANCE_ID or DYNO when set, the hostname otherwise.
func ID(fallback string) string {
	if id := env.First("STOREFRONT_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
