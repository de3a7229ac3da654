package config

import (
	"fmt"
	"os"
)

// Template returns a commented repeaterctl config holding the defaults.
func Template() string {
	return repeaterTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(repeaterTemplate), 0o600)
}

const repeaterTemplate = `# piste this repeater is attached to (1..max_piste)
piste = 1
max_piste = 30
http_addr = ":8080"
cors_origins = ["http://localhost:3000"]
console = true
color = true
heartbeat = "30s"
demo_interval = "1s"

[serial]
device = "auto"
baud = 115200
reconnect_delay = "1s"
read_timeout = "200ms"

[network]
group = "239.255.77.77"
port = 28877
interface = ""
tx_interval = "250ms"
rx_timeout = "2s"
rejoin_delay = "500ms"
reachability_interval = "1s"

[passivity]
max_time = 60

[keys]
queue_size = 16
`
