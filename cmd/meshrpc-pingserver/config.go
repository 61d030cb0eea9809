// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config configures the meshrpc-pingserver demo process: all fields are
// overridable with MESHRPC_PINGSERVER_* environment variables, grounded on
// marmos91-dittofs's pkg/config.Load environment-over-defaults precedence.
type Config struct {
	NATSURL     string `mapstructure:"nats_url"`
	Subject     string `mapstructure:"subject"`
	QueueGroup  string `mapstructure:"queue_group"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func defaultConfig() Config {
	return Config{
		NATSURL:     "nats://127.0.0.1:4222",
		Subject:     "foo",
		QueueGroup:  "",
		MetricsAddr: ":9090",
	}
}

// loadConfig reads Config from MESHRPC_PINGSERVER_* environment variables
// over the defaults above.
func loadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("meshrpc_pingserver")
	v.AutomaticEnv()

	cfg := defaultConfig()
	v.SetDefault("nats_url", cfg.NATSURL)
	v.SetDefault("subject", cfg.Subject)
	v.SetDefault("queue_group", cfg.QueueGroup)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	for _, key := range []string{"nats_url", "subject", "queue_group", "metrics_addr"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
