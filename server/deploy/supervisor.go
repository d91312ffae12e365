// Package deploy implements the zero-downtime deploy/rollback loop. It runs
// as its own process (cmd/deploywatch), independent of the dashboard server:
// it polls the git remote, updates the working copy when the branch moves,
// restarts the server, and keeps or rolls back the new revision based on the
// health endpoint.
package deploy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Defaults for the supervisor loop.
const (
	DefaultPollInterval  = 60 * time.Second
	DefaultHealthRetries = 5
	DefaultHealthDelay   = 5 * time.Second
	DefaultBranch        = "main"
)

// Config configures one supervisor loop. All fields map to deploywatch
// flags and HOMEBOARD_* environment variables.
type Config struct {
	// RepoDir is the dashboard's working copy.
	RepoDir string

	// Branch is the remote branch to track.
	Branch string

	// PollInterval is how often to check the remote for new revisions.
	PollInterval time.Duration

	// HealthURL is the dashboard's health endpoint.
	HealthURL string

	// HealthRetries and HealthDelay bound the post-restart health check.
	HealthRetries int
	HealthDelay   time.Duration

	// RestartCommand restarts the dashboard process (e.g., a systemctl
	// invocation). Empty means an external process manager restarts it
	// when the working copy changes.
	RestartCommand []string

	// ReloadURL is the dashboard's trigger-refresh endpoint, called after
	// a verified deploy so connected viewers reload.
	ReloadURL string
}

func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HealthRetries <= 0 {
		c.HealthRetries = DefaultHealthRetries
	}
	if c.HealthDelay <= 0 {
		c.HealthDelay = DefaultHealthDelay
	}
}

// CommandRunner executes one external command and returns its combined
// output. Abstracted so the loop is testable without a git repository.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// execRunner is the production CommandRunner.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, errors.Wrapf(err, "%s %s failed: %s", name, strings.Join(args, " "), output)
	}
	return output, nil
}

// Supervisor is the deploy loop. It never talks to the snapshot cache or
// the hub directly: its only interface to the running server is the health
// endpoint and the reload trigger, so it cannot corrupt live state.
type Supervisor struct {
	cfg    Config
	runner CommandRunner
	client *http.Client
	logger *slog.Logger
}

// New creates a supervisor with the production command runner.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		runner: execRunner{},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// SetRunner replaces the command runner (useful for testing).
func (s *Supervisor) SetRunner(r CommandRunner) {
	s.runner = r
}

// SetHTTPClient replaces the HTTP client (useful for testing).
func (s *Supervisor) SetHTTPClient(c *http.Client) {
	s.client = c
}

// Run executes the poll loop until ctx is canceled. The first check runs
// immediately; later ones on the poll interval.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("deploy supervisor started",
		"repo", s.cfg.RepoDir, "branch", s.cfg.Branch, "interval", s.cfg.PollInterval)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deploy supervisor stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one poll cycle. Every failure short of a failed health
// check is non-fatal: it is logged and retried on the next tick.
func (s *Supervisor) tick(ctx context.Context) {
	if _, err := s.git(ctx, "fetch", "origin", s.cfg.Branch); err != nil {
		s.logger.Warn("failed to fetch remote state", "error", err.Error())
		return
	}

	local, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		s.logger.Warn("failed to resolve local revision", "error", err.Error())
		return
	}
	remote, err := s.git(ctx, "rev-parse", "origin/"+s.cfg.Branch)
	if err != nil {
		s.logger.Warn("failed to resolve remote revision", "error", err.Error())
		return
	}

	if local == remote {
		return
	}

	s.logger.Info("new revision detected", "current", local, "target", remote)
	s.deploy(ctx, local, remote)
}

// deploy updates the working copy to target, restarts the server, and
// verifies it. On a failed health check it reverts to previous and restarts
// again without a second health check: the prior revision was already
// verified live.
func (s *Supervisor) deploy(ctx context.Context, previous, target string) {
	if _, err := s.git(ctx, "reset", "--hard", target); err != nil {
		s.logger.Error("failed to update working copy", "error", err.Error())
		return
	}
	if err := s.restart(ctx); err != nil {
		s.logger.Error("failed to restart after update, rolling back", "error", err.Error())
		s.rollback(ctx, previous)
		return
	}

	if s.waitHealthy(ctx) {
		s.logger.Info("deploy verified", "revision", target)
		s.signalReload(ctx)
		return
	}

	s.logger.Error("health check failed, rolling back",
		"revision", target, "previous", previous)
	s.rollback(ctx, previous)
}

// rollback reverts the working copy and restarts. No reload signal is sent:
// viewers are still served by a known-good revision.
func (s *Supervisor) rollback(ctx context.Context, revision string) {
	if _, err := s.git(ctx, "reset", "--hard", revision); err != nil {
		s.logger.Error("failed to revert working copy", "revision", revision, "error", err.Error())
		return
	}
	if err := s.restart(ctx); err != nil {
		s.logger.Error("failed to restart after rollback", "error", err.Error())
		return
	}
	s.logger.Info("rolled back", "revision", revision)
}

// waitHealthy polls the health endpoint up to the configured retry count
// with a fixed delay before each attempt, giving the restarted process time
// to come up.
func (s *Supervisor) waitHealthy(ctx context.Context) bool {
	for attempt := 1; attempt <= s.cfg.HealthRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.HealthDelay):
		}

		if s.checkHealth(ctx) {
			return true
		}
		s.logger.Warn("health check attempt failed",
			"attempt", attempt, "retries", s.cfg.HealthRetries)
	}
	return false
}

// checkHealth requires a 2xx response whose body is {"status":"healthy"}.
// Any other shape signals unhealthy.
func (s *Supervisor) checkHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == "healthy"
}

// signalReload asks the server to broadcast a reload to connected viewers.
// A failure here is logged but does not fail the deploy: the new revision
// is live and viewers pick it up on their next natural reload.
func (s *Supervisor) signalReload(ctx context.Context) {
	if s.cfg.ReloadURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ReloadURL, nil)
	if err != nil {
		s.logger.Warn("failed to build reload request", "error", err.Error())
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("failed to signal client reload", "error", err.Error())
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("reload signal rejected", "status", resp.StatusCode)
	}
}

func (s *Supervisor) git(ctx context.Context, args ...string) (string, error) {
	return s.runner.Run(ctx, s.cfg.RepoDir, "git", args...)
}

// restart runs the configured restart command, if any.
func (s *Supervisor) restart(ctx context.Context) error {
	if len(s.cfg.RestartCommand) == 0 {
		return nil
	}
	_, err := s.runner.Run(ctx, s.cfg.RepoDir, s.cfg.RestartCommand[0], s.cfg.RestartCommand[1:]...)
	return err
}
