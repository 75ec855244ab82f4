// Package app wires the step-up client together: config, logging, the HTTP
// gateway and the flow orchestrator.
package app

import (
	"fmt"
	"log/slog"

	"github.com/meridianhq/stepup/internal/stepup/flow"
	"github.com/meridianhq/stepup/internal/stepup/gateway/authhttp"
	"github.com/meridianhq/stepup/pkg/slogx"
)

const serviceName = "stepup"

// Version is stamped at build time.
var Version = "dev"

// App is a fully wired client. The zero value is not usable.
type App struct {
	Config       Config
	Log          *slog.Logger
	Client       *authhttp.Client
	Orchestrator *flow.Orchestrator
}

// New builds the client. platform may be nil on hosts without an assertion
// capability; the passkey method then drops out of every choice.
func New(cfg Config, platform flow.Authenticator) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := slogx.New(slogx.Config{
		Service: serviceName,
		Version: Version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	client := authhttp.New(cfg.ServiceURL)
	client.HTTPClient.Timeout = cfg.HTTPTimeout

	orchestrator := flow.NewOrchestrator(client, platform)

	// Once a session is confirmed the bearer is installed by the caller via
	// SessionConfirmed; the gateway itself never holds pending material.
	app := &App{
		Config:       cfg,
		Log:          log,
		Client:       client,
		Orchestrator: orchestrator,
	}

	log.Info("step-up client initialized", "service_url", cfg.ServiceURL, "env", cfg.Env)
	return app, nil
}

// SessionConfirmed installs the session's access token as the bearer for
// authenticated settings calls (enrollment, factor management).
func (a *App) SessionConfirmed(accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("empty access token")
	}
	a.Client.SetBearer(accessToken)
	return nil
}
