package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		LogLevel:             "debug",
		AuthSecret:           "secret",
		ConnectionBufferSize: 64,
		HeartbeatTimeout:     30 * time.Second,
		TypingIdleTimeout:    5 * time.Second,
		SweepInterval:        time.Second,
		RoomGracePeriod:      10 * time.Second,
		RestartInterval:      200 * time.Millisecond,
		TelemetryInterval:    15 * time.Second,
		JoinTimeout:          10 * time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	req := require.New(t)
	req.NoError(validConfig().Validate())
}

func TestConfig_Validate_TypingWindowMustBeShorter(t *testing.T) {
	req := require.New(t)

	cfg := validConfig()
	cfg.TypingIdleTimeout = cfg.HeartbeatTimeout
	req.Error(cfg.Validate())

	cfg.TypingIdleTimeout = cfg.HeartbeatTimeout + time.Second
	req.Error(cfg.Validate())
}

func TestConfig_Validate_BufferSize(t *testing.T) {
	req := require.New(t)

	cfg := validConfig()
	cfg.ConnectionBufferSize = 0
	req.Error(cfg.Validate())
}
