package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	AuthSecret           string        `env:"AUTH_SECRET,required=true"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	HeartbeatTimeout     time.Duration `env:"HEARTBEAT_TIMEOUT,required=true"`
	TypingIdleTimeout    time.Duration `env:"TYPING_IDLE_TIMEOUT,required=true"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL,required=true"`
	RoomGracePeriod      time.Duration `env:"ROOM_GRACE_PERIOD,required=true"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,required=true"`
	TelemetryInterval    time.Duration `env:"TELEMETRY_INTERVAL,required=true"`
	JoinTimeout          time.Duration `env:"JOIN_TIMEOUT,default=10s"`
}

// Validate enforces cross-field invariants that env parsing cannot express.
// The typing idle window must be strictly shorter than the disconnect
// timeout, otherwise typing indicators would outlive their connection.
func (c Config) Validate() error {
	if c.TypingIdleTimeout >= c.HeartbeatTimeout {
		return fmt.Errorf(
			"TYPING_IDLE_TIMEOUT (%s) must be strictly shorter than HEARTBEAT_TIMEOUT (%s)",
			c.TypingIdleTimeout, c.HeartbeatTimeout,
		)
	}
	if c.ConnectionBufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	return nil
}
