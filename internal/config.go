package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/termboard/internal/board"
	"github.com/starford/termboard/internal/models"
	"github.com/starford/termboard/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Vault      VaultConfig       `yaml:"vault"`
	Books      []models.Book     `yaml:"books"`
	Vocabulary VocabularyConfig  `yaml:"vocabulary"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := validateBooks(c.Books); err != nil {
		return err
	}
	if err := c.Vocabulary.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the root directory of the board documents.
type VaultConfig struct {
	Path       string   `yaml:"path"`
	Extensions []string `yaml:"extensions"`
	Watch      bool     `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.Required)),
	)
}

func validateBooks(books []models.Book) error {
	seen := make(map[string]bool, len(books))
	for i, b := range books {
		p := strings.TrimSpace(b.Path)
		if p == "" {
			return fmt.Errorf("books[%d]: path is required", i)
		}
		if seen[p] {
			return fmt.Errorf("books[%d]: duplicate path %q", i, p)
		}
		seen[p] = true
	}
	return nil
}

// VocabularyConfig holds index and sync settings.
type VocabularyConfig struct {
	MasteredDetectionMode board.MasteredMode `yaml:"mastered_detection_mode"`
	MasteredEnabled       bool               `yaml:"mastered_enabled"`
	MasteredLabel         string             `yaml:"mastered_label"`
	MaxAliasesPerTerm     int                `yaml:"max_aliases_per_term"`
	DebounceWindow        time.Duration      `yaml:"debounce_window"`
	FlushRetries          int                `yaml:"flush_retries"`
	FlushOnShutdown       bool               `yaml:"flush_on_shutdown"`
	MatchCacheSize        int                `yaml:"match_cache_size"`
}

// Validate validates the vocabulary configuration.
func (c *VocabularyConfig) Validate() error {
	if c.MasteredDetectionMode == "" {
		c.MasteredDetectionMode = board.MasteredByGroup
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.MasteredDetectionMode, validation.In(board.MasteredByGroup, board.MasteredByColor)),
		validation.Field(&c.MaxAliasesPerTerm, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.DebounceWindow, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.FlushRetries, validation.Min(0), validation.Max(20)),
		validation.Field(&c.MatchCacheSize, validation.Required, validation.Min(1)),
	)
}

// BoardOptions returns the parse options for board documents.
func (c *VocabularyConfig) BoardOptions() board.Options {
	return board.Options{
		MasteredMode:  c.MasteredDetectionMode,
		MasteredLabel: c.MasteredLabel,
		MaxAliases:    c.MaxAliasesPerTerm,
	}
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:       "./vault",
			Extensions: append([]string(nil), storage.DefaultExtensions...),
			Watch:      true,
		},
		Vocabulary: VocabularyConfig{
			MasteredDetectionMode: board.MasteredByGroup,
			MasteredEnabled:       true,
			MasteredLabel:         board.DefaultMasteredLabel,
			MaxAliasesPerTerm:     board.DefaultMaxAliases,
			DebounceWindow:        time.Second,
			FlushRetries:          3,
			FlushOnShutdown:       true,
			MatchCacheSize:        512,
		},
		SQLite: SQLiteConfig{
			Path: "./termboard.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
