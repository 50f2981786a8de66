package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the js8emu configuration
type Config struct {
	General struct {
		FragmentSize int
		FrameTime    float64
	}

	Logging struct {
		Level      string
		File       string
		Console    bool
		MaxSize    int
		MaxBackups int
		MaxAge     int
		Compress   bool
	}

	Monitor struct {
		Enabled     bool
		Port        int
		BindAddress string
	}

	Interfaces []InterfaceConfig
}

// InterfaceConfig describes one emulated station endpoint
type InterfaceConfig struct {
	Name       string
	Port       int
	Callsign   string
	Frequency  int
	Offset     int
	Maidenhead string
}

// interfacePrefix selects the sections that define emulated stations.
const interfacePrefix = "interface_"

// LoadConfig loads configuration from an INI file
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var config Config

	general := v.Sub("general")
	if general == nil {
		return nil, fmt.Errorf("missing [general] section")
	}
	fragmentSize, err := requiredInt(general, "general", "fragment_size")
	if err != nil {
		return nil, err
	}
	frameTime, err := requiredFloat(general, "general", "frame_time")
	if err != nil {
		return nil, err
	}
	config.General.FragmentSize = fragmentSize
	config.General.FrameTime = frameTime

	// Interface sections come back unordered from viper; sort by name so
	// broadcast enumeration is reproducible across runs.
	var sections []string
	for section := range v.AllSettings() {
		if strings.HasPrefix(section, interfacePrefix) {
			sections = append(sections, section)
		}
	}
	sort.Strings(sections)

	for _, section := range sections {
		s := v.Sub(section)
		port, err := requiredInt(s, section, "port")
		if err != nil {
			return nil, err
		}
		callsign, err := requiredString(s, section, "callsign")
		if err != nil {
			return nil, err
		}
		frequency, err := requiredInt(s, section, "frequency")
		if err != nil {
			return nil, err
		}
		offset, err := requiredInt(s, section, "offset")
		if err != nil {
			return nil, err
		}
		maidenhead, err := requiredString(s, section, "maidenhead")
		if err != nil {
			return nil, err
		}

		config.Interfaces = append(config.Interfaces, InterfaceConfig{
			Name:       section,
			Port:       port,
			Callsign:   callsign,
			Frequency:  frequency,
			Offset:     offset,
			Maidenhead: maidenhead,
		})
	}

	if logging := v.Sub("logging"); logging != nil {
		config.Logging.Level = logging.GetString("level")
		config.Logging.File = logging.GetString("file")
		config.Logging.Console = logging.GetBool("console")
		config.Logging.MaxSize = logging.GetInt("max_size")
		config.Logging.MaxBackups = logging.GetInt("max_backups")
		config.Logging.MaxAge = logging.GetInt("max_age")
		config.Logging.Compress = logging.GetBool("compress")
	}

	if monitor := v.Sub("monitor"); monitor != nil {
		config.Monitor.Enabled = monitor.GetBool("enabled")
		config.Monitor.Port = monitor.GetInt("port")
		config.Monitor.BindAddress = monitor.GetString("bind_address")
	}

	// Set defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 100
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 5
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 30
	}
	if config.Monitor.Port == 0 {
		config.Monitor.Port = 8080
	}
	if config.Monitor.BindAddress == "" {
		config.Monitor.BindAddress = "127.0.0.1"
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.General.FragmentSize <= 0 {
		return fmt.Errorf("[general] fragment_size must be > 0")
	}
	if c.General.FrameTime < 0 {
		return fmt.Errorf("[general] frame_time must be >= 0")
	}
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("no [interface_*] sections found")
	}

	ports := make(map[int]string)
	callsigns := make(map[string]string)
	for _, ic := range c.Interfaces {
		if ic.Port <= 0 || ic.Port > 65535 {
			return fmt.Errorf("[%s] port out of range: %d", ic.Name, ic.Port)
		}
		if ic.Callsign == "" {
			return fmt.Errorf("[%s] callsign must be non-empty", ic.Name)
		}
		if ic.Frequency <= 0 {
			return fmt.Errorf("[%s] frequency must be > 0", ic.Name)
		}
		if ic.Maidenhead == "" {
			return fmt.Errorf("[%s] maidenhead must be non-empty", ic.Name)
		}
		if other, dup := ports[ic.Port]; dup {
			return fmt.Errorf("[%s] port %d already used by [%s]", ic.Name, ic.Port, other)
		}
		ports[ic.Port] = ic.Name
		upper := strings.ToUpper(ic.Callsign)
		if other, dup := callsigns[upper]; dup {
			return fmt.Errorf("[%s] callsign %s already used by [%s]", ic.Name, ic.Callsign, other)
		}
		callsigns[upper] = ic.Name
	}
	return nil
}

func requiredString(v *viper.Viper, section, key string) (string, error) {
	if v == nil || !v.IsSet(key) {
		return "", fmt.Errorf("missing [%s] key %q", section, key)
	}
	value := strings.TrimSpace(v.GetString(key))
	value = strings.Trim(value, `"'`)
	if value == "" {
		return "", fmt.Errorf("missing [%s] key %q", section, key)
	}
	return value, nil
}

func requiredInt(v *viper.Viper, section, key string) (int, error) {
	raw, err := requiredString(v, section, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid [%s] value for %q: %w", section, key, err)
	}
	return n, nil
}

func requiredFloat(v *viper.Viper, section, key string) (float64, error) {
	raw, err := requiredString(v, section, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid [%s] value for %q: %w", section, key, err)
	}
	return f, nil
}
