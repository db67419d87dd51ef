package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"formgate/internal/dataType"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Failsafe policies for when a remote verification service is unreachable.
const (
	FailsafeBlock    = "block"
	FailsafeHoneypot = "honeypot"
	FailsafeAllow    = "allow"
)

// MainConfig is the process-level configuration: where to listen, where to
// log, and which headers the fronting system uses to convey the client and
// actor context.
type MainConfig struct {
	Port         string `yaml:"port"`
	WebPath      string `yaml:"web_path"`
	SettingsPath string `yaml:"settings_path"`
	LogPath      string `yaml:"log_path"`
	NodeName     string `yaml:"node_name"`

	ConnectingIPHeaders   []string `yaml:"connecting_ip_headers"`
	ConnectingHostHeaders []string `yaml:"connecting_host_headers"`
	ActorLoggedInHeaders  []string `yaml:"actor_logged_in_headers"`
	ActorRoleHeaders      []string `yaml:"actor_role_headers"`
}

// LoadMainConfig reads config/formgate.yml under basePath, falling back to
// the executable's directory when basePath is empty. Returns the defaults
// alongside the error so a caller can choose to run on them.
func LoadMainConfig(basePath string) (*MainConfig, error) {

	defaultCfg := MainConfig{
		Port:                  "25580",
		WebPath:               "/formgate",
		SettingsPath:          "/www/formgate/config/settings.yml",
		LogPath:               "/www/formgate/log/",
		NodeName:              "Formgate",
		ConnectingIPHeaders:   []string{"Formgate-Real-IP"},
		ConnectingHostHeaders: []string{"Formgate-Real-Host"},
		ActorLoggedInHeaders:  []string{"Formgate-Actor-Authenticated"},
		ActorRoleHeaders:      []string{"Formgate-Actor-Roles"},
	}

	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	if basePath == "" {
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "formgate.yml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return &defaultCfg, err
	}

	var cfg MainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &defaultCfg, err
	}

	return &cfg, nil
}

// StorageSettings selects the shared state backend.
type StorageSettings struct {
	Backend string               `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	Redis   dataType.RedisConfig `yaml:"redis"`
}

// Settings is the protection configuration surface, owned by the hosting
// system's admin screens and read-only here. Loaded once and treated as an
// immutable snapshot per process lifetime.
type Settings struct {
	Provider  dataType.ProviderID `yaml:"provider" validate:"omitempty,oneof=turnstile recaptcha_v2 recaptcha_v3 hcaptcha honeypot"`
	SiteKey   string              `yaml:"site_key"`
	SecretKey string              `yaml:"secret_key"`

	ScoreThreshold float64 `yaml:"score_threshold" validate:"gte=0,lte=1"`
	Theme          string  `yaml:"theme"`
	Size           string  `yaml:"size"`

	EnabledForms []string `yaml:"enabled_forms"`

	WhitelistLoggedIn bool     `yaml:"whitelist_logged_in"`
	WhitelistRoles    []string `yaml:"whitelist_roles"`
	WhitelistIPs      string   `yaml:"whitelist_ips"`
	BlocklistIPs      string   `yaml:"blocklist_ips"`

	EnableHoneypot  bool   `yaml:"enable_honeypot"`
	HoneypotMinTime int    `yaml:"honeypot_min_time"`
	HoneypotSecret  string `yaml:"honeypot_secret"`

	EnableRateLimiting bool `yaml:"enable_rate_limiting"`
	RateLimitRequests  int  `yaml:"rate_limit_requests"`
	RateLimitLockout   int  `yaml:"rate_limit_lockout"`
	RateLimitWindow    int  `yaml:"rate_limit_window"`

	FailsafeMode         string `yaml:"failsafe_mode" validate:"omitempty,oneof=block honeypot allow"`
	VerifyTimeoutSeconds int    `yaml:"verify_timeout"`
	EnableDebugLogging   bool   `yaml:"enable_debug_logging"`

	Storage StorageSettings `yaml:"storage"`
}

// LoadSettings reads, defaults and validates the settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("settings file %s does not exist: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if err := s.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return &s, nil
}

// ApplyDefaults fills zero or out-of-range values with the documented
// defaults, minting a honeypot secret when none is configured.
func (s *Settings) ApplyDefaults() error {
	if s.ScoreThreshold <= 0 {
		s.ScoreThreshold = 0.5
	}
	if s.FailsafeMode == "" {
		s.FailsafeMode = FailsafeHoneypot
	}
	if s.HoneypotMinTime <= 0 {
		s.HoneypotMinTime = 3
	}
	if s.VerifyTimeoutSeconds <= 0 {
		s.VerifyTimeoutSeconds = 30
	}
	if s.Storage.Backend == "" {
		s.Storage.Backend = "memory"
	}
	if s.HoneypotSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to mint honeypot secret: %w", err)
		}
		s.HoneypotSecret = hex.EncodeToString(buf)
	}
	return nil
}

// FormEnabled reports whether formID is in the protected set.
func (s *Settings) FormEnabled(formID string) bool {
	for _, id := range s.EnabledForms {
		if id == formID {
			return true
		}
	}
	return false
}

// VerifyTimeout is the outbound siteverify call budget.
func (s *Settings) VerifyTimeout() time.Duration {
	return time.Duration(s.VerifyTimeoutSeconds) * time.Second
}
