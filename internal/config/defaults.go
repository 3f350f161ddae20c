package config

import "time"

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		LogLevel: "info",
		Dispatch: DispatchConfig{
			Slots:         16,
			TombstoneSize: 50,
		},
		Policy: PolicyConfig{
			FailureThreshold:     3,
			InitialBackoff:       Duration(time.Second),
			MaxBackoff:           Duration(2 * time.Minute),
			BackoffMultiplier:    2.0,
			ApplyTimeout:         Duration(30 * time.Second),
			ProvisionTimeout:     Duration(time.Minute),
			BootTimeout:          Duration(5 * time.Minute),
			ReachabilityInterval: Duration(2 * time.Second),
		},
		Poller: PollerConfig{
			Interval: Duration(time.Minute),
		},
		Source: SourceConfig{
			Kind: "nats",
			NATS: NATSSourceConfig{
				Subject: "notifications.>",
				Durable: "rudder",
				AckWait: Duration(30 * time.Second),
			},
		},
		Admin: AdminConfig{
			Listen:         "127.0.0.1:44250",
			CommandTimeout: Duration(time.Minute),
		},
	}
}
