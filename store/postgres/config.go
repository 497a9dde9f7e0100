package postgres

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
)

// Config is the [postgres] section of the launchpad config file.
type Config struct {
	Host     string `toml:"host" default:"localhost"`
	Port     int    `toml:"port" default:"5432"`
	User     string `toml:"user" default:"postgres"`
	Password string `toml:"password" default:"postgres"`
	Database string `toml:"database" default:"launchpad"`
	// disable, require, verify-ca, verify-full
	SSLMode string `toml:"sslmode" default:"disable"`
}

func DefaultConfig() *Config {
	config := &Config{}
	defaults.SetDefaults(config)
	return config
}

// DSN renders the config as libpq key/value pairs, quoting values when
// needed.
func (c *Config) DSN() string {
	pairs := []string{
		"host=" + dsnValue(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"user=" + dsnValue(c.User),
		"password=" + dsnValue(c.Password),
		"dbname=" + dsnValue(c.Database),
		"sslmode=" + dsnValue(c.SSLMode),
	}
	return strings.Join(pairs, " ")
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the config, an empty sslmode becomes disable.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.BadRequestf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.BadRequestf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return errors.BadRequestf("user cannot be empty")
	}
	if c.Database == "" {
		return errors.BadRequestf("database cannot be empty")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !validSSLModes[c.SSLMode] {
		return errors.BadRequestf("invalid sslmode: %s", c.SSLMode)
	}
	return nil
}

// ParseDSN accepts key/value pairs (host=db port=5432 ...) or a
// postgres:// URL. Missing fields keep their default.
func ParseDSN(dsn string) (*Config, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return parseURL(dsn)
	}

	config := DefaultConfig()
	pairs, err := splitPairs(dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for key, value := range pairs {
		if err := config.set(key, value); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return config, config.Validate()
}

func parseURL(dsn string) (*Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.BadRequestf("invalid postgres url: %v", err)
	}
	config := DefaultConfig()
	if host := u.Hostname(); host != "" {
		config.Host = host
	}
	if port := u.Port(); port != "" {
		if err := config.set("port", port); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if u.User != nil {
		config.User = u.User.Username()
		if password, ok := u.User.Password(); ok {
			config.Password = password
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		config.Database = db
	}
	for key, values := range u.Query() {
		if len(values) > 0 {
			if err := config.set(key, values[0]); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	return config, config.Validate()
}

// set applies one libpq keyword, unknown keywords are ignored.
func (c *Config) set(key, value string) error {
	switch key {
	case "host":
		c.Host = value
	case "port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return errors.BadRequestf("invalid port %q", value)
		}
		c.Port = port
	case "user":
		c.User = value
	case "password":
		c.Password = value
	case "dbname":
		c.Database = value
	case "sslmode":
		c.SSLMode = value
	}
	return nil
}

// splitPairs tokenizes key=value pairs, values may be single quoted with
// backslash escapes.
func splitPairs(dsn string) (map[string]string, error) {
	pairs := make(map[string]string)
	s := dsn
	for {
		s = strings.TrimLeft(s, " \t\n")
		if s == "" {
			return pairs, nil
		}
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, errors.BadRequestf("invalid dsn near %q", s)
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value strings.Builder
		if strings.HasPrefix(s, "'") {
			i, closed := 1, false
			for ; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
					value.WriteByte(s[i])
					continue
				}
				if s[i] == '\'' {
					closed = true
					break
				}
				value.WriteByte(s[i])
			}
			if !closed {
				return nil, errors.BadRequestf("unterminated quote in value of %s", key)
			}
			s = s[i+1:]
		} else {
			end := strings.IndexAny(s, " \t\n")
			if end < 0 {
				end = len(s)
			}
			value.WriteString(s[:end])
			s = s[end:]
		}
		pairs[key] = value.String()
	}
}

// Address is host:port, for log lines.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
