package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigFile is used when neither --config nor --profile is given
const DefaultConfigFile = "ingestagent.yaml"

// SystemConfigDir holds profile files when INGESTAGENT_HOME does not
var SystemConfigDir = "/etc/ingestagent"

// ResolvePath returns the config file to load.
// Priority order:
//  1. explicit path (--config)
//  2. profile (--profile NAME): $INGESTAGENT_HOME/NAME.yaml, then SystemConfigDir/NAME.yaml
//  3. ./ingestagent.yaml
//
// Spaces are stripped from profile names.
func ResolvePath(explicit, profile string, getenv func(string) string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if profile == "" {
		return DefaultConfigFile, nil
	}

	name := strings.ReplaceAll(profile, " ", "")
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid profile name %q", profile)
	}
	file := name + ".yaml"

	var tried []string
	if getenv != nil {
		if home := getenv("INGESTAGENT_HOME"); home != "" {
			candidate := filepath.Join(home, file)
			if fileExists(candidate) {
				return candidate, nil
			}
			tried = append(tried, candidate)
		}
	}

	candidate := filepath.Join(SystemConfigDir, file)
	if fileExists(candidate) {
		return candidate, nil
	}
	tried = append(tried, candidate)

	return "", fmt.Errorf("profile %q not found (tried %s)", profile, strings.Join(tried, ", "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
