package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# decompctl configuration
#
# log_level     trace | debug | info | warn | error | off
# metrics_addr  host:port for /metrics and /healthz; empty disables
# metrics_token bearer token required on /metrics; empty leaves it open
# listen_addr   host:port to accept clients on; empty serves stdin/stdout
# facts_db      SQLite fact store used by "decompctl probe" and "facts import"
# [tls]         secures listen_addr and the probe connection; mutual requires ca_file

`

// Template renders the default configuration as TOML.
func Template() (string, error) {
	body, err := toml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
