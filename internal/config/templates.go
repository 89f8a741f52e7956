package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# fundx daemon configuration

[daemon]
# Timezone the scheduler evaluates session times in
timezone = "America/New_York"
# Stop-loss guard cadence during market hours
stop_loss_interval_minutes = 5
# Background task pool size
workers = 8
queue_size = 128

[market]
open = "09:30"
close = "16:00"

[reports]
# Daily report time; weekly runs on weekly_day, monthly on monthly_day
time = "16:30"
weekly_day = "friday"
monthly_day = 1

[sync]
enabled = true
time = "16:15"

[executor]
# "subprocess" runs command with the prompt on stdin, "openai" calls the chat API
kind = "subprocess"
command = "fundx-agent"
args = ["--print"]
default_model = "gpt-4o"
default_timeout_minutes = 15
sub_task_timeout_minutes = 8

[logging]
level = "info"
console = true
file = true

# Credentials are better kept in <home>/.env:
# OPENAI_API_KEY, APCA_API_KEY_ID, APCA_API_SECRET_KEY, KITE_API_KEY, KITE_ACCESS_TOKEN
[credentials.alpaca]
base_url = "https://paper-api.alpaca.markets"

[credentials.zerodha]
exchange = "NSE"
`

func createTemplateConfig(home string) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("creating home directory: %w", err)
	}

	path := filepath.Join(home, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
