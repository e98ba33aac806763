package config

import (
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// ResolvePath applies CLI then XDG rules for the config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	return filepath.Join(xdg.ConfigHome, "vice", "config.jsonc"), nil
}
