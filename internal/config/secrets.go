package config

import (
	"fmt"
	"strings"

	"github.com/edge-vision/camctl/pkg/console"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Secrets are the console credentials read from the file given with
// --aitrios-secrets.
type Secrets struct {
	ConsoleEndpoint             string `mapstructure:"console_endpoint" validate:"required,url"`
	ClientID                    string `mapstructure:"client_id" validate:"required"`
	ClientSecret                string `mapstructure:"client_secret" validate:"required"`
	PortalAuthorizationEndpoint string `mapstructure:"portal_authorization_endpoint" validate:"required,url"`
	Scope                       string `mapstructure:"scope"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSecrets reads and validates a secrets file. The format follows the
// file extension (json, yaml, toml).
func LoadSecrets(path string) (*Secrets, error) {
	if path == "" {
		return nil, fmt.Errorf("secrets file path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var s Secrets
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid secrets file %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the struct tags and reports every failing field.
func (s *Secrets) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// ConsoleConfig maps the secrets onto a console client configuration.
func (s *Secrets) ConsoleConfig() console.Config {
	cfg := console.Config{
		Endpoint:     s.ConsoleEndpoint,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     s.PortalAuthorizationEndpoint,
	}
	if s.Scope != "" {
		cfg.Scopes = strings.Fields(s.Scope)
	}
	return cfg
}
