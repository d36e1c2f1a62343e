/*
 *
 * surge - a virtual-user load generator for HTTP APIs
 * Copyright (C) 2026 surge authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package csv

import (
	"fmt"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/surge/lib/strvals"
	"github.com/liuxd6825/surge/lib/types"
)

// TimeFormat custom enum type
type TimeFormat string

// valid defined values for TimeFormat
const (
	Unix    TimeFormat = "unix"
	RFC3339 TimeFormat = "rfc3339"
)

// IsValid validates TimeFormat
func (timeFormat TimeFormat) IsValid() bool {
	switch timeFormat {
	case Unix, RFC3339:
		return true
	}
	return false
}

// Config is the config for the csv output
type Config struct {
	// Samples.
	FileName     null.String        `json:"fileName" envconfig:"SURGE_CSV_FILENAME"`
	SaveInterval types.NullDuration `json:"saveInterval" envconfig:"SURGE_CSV_SAVE_INTERVAL"`
	TimeFormat   null.String        `json:"timeFormat" envconfig:"SURGE_CSV_TIME_FORMAT"`
}

// NewConfig creates a new Config instance with default values for some fields.
func NewConfig() Config {
	return Config{
		FileName:     null.NewString("file.csv", false),
		SaveInterval: types.NewNullDuration(1*time.Second, false),
		TimeFormat:   null.NewString(string(Unix), false),
	}
}

// Apply merges two configs by overwriting properties in the old config
func (c Config) Apply(cfg Config) Config {
	if cfg.FileName.Valid {
		c.FileName = cfg.FileName
	}
	if cfg.SaveInterval.Valid {
		c.SaveInterval = cfg.SaveInterval
	}
	if cfg.TimeFormat.Valid {
		c.TimeFormat = cfg.TimeFormat
	}
	return c
}

// ParseArg takes an arg string and converts it to a config
func ParseArg(arg string) (Config, error) {
	c := Config{}

	if !strings.Contains(arg, "=") {
		c.FileName = null.StringFrom(arg)
		return c, nil
	}

	tokens, err := strvals.Parse(arg)
	if err != nil {
		return c, err
	}

	for _, token := range tokens {
		switch token.Key {
		case "saveInterval":
			v, err := types.ParseExtendedDuration(token.Value)
			if err != nil {
				return c, err
			}
			c.SaveInterval = types.NullDurationFrom(v)
		case "fileName":
			c.FileName = null.StringFrom(token.Value)
		case "timeFormat":
			c.TimeFormat = null.StringFrom(token.Value)
		default:
			return c, fmt.Errorf("unknown key %q as argument for csv output", token.Key)
		}
	}

	return c, nil
}

// GetConsolidatedConfig combines {default config values + environment vars +
// arg config values}, and returns the final result.
func GetConsolidatedConfig(env map[string]string, arg string) (Config, error) {
	result := NewConfig()

	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, err
	}
	result = result.Apply(envConfig)

	if arg != "" {
		argConf, err := ParseArg(arg)
		if err != nil {
			return result, err
		}
		result = result.Apply(argConf)
	}

	if tf := TimeFormat(result.TimeFormat.String); !tf.IsValid() {
		return result, fmt.Errorf("unknown value %q as argument for csv output timeFormat, expected unix or rfc3339", tf)
	}

	return result, nil
}
