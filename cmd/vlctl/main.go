package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/jrmce/VersionLifecycle-sub000/pkg/api/client"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/config"
)

const defaultAPIBase = "http://localhost:4000"

var buildVersion = "dev"

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

// cli carries the resolved flags shared by every subcommand.
type cli struct {
	apiBase    string
	token      string
	timeout    time.Duration
	configPath func() (string, error)
	readSecret func(prompt string) (string, error)
	stdin      io.Reader
}

func main() {
	if err := newRootCmd(newCLI()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli {
	c := &cli{configPath: defaultConfigPath, stdin: os.Stdin}
	c.readSecret = c.promptSecret
	return c
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "vlctl",
		Short:         "Operate deployments and webhooks of the version lifecycle API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.apiBase, "api", config.GetString("VLCTL_API", ""), "API base URL (default from saved config)")
	flags.StringVar(&c.token, "token", config.GetString("VLCTL_TOKEN", ""), "bearer token (default from saved config)")
	flags.DurationVar(&c.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		c.loginCmd(),
		c.tokenCmd(),
		c.deployCmd(),
		c.webhookCmd(),
		c.healthCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the CLI version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(buildVersion))
			},
		},
	)
	return root
}

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save the API base URL and an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(c.apiBase) != "" {
				cfg.APIBaseURL = strings.TrimSpace(c.apiBase)
			}
			token := strings.TrimSpace(c.token)
			if token == "" {
				if token, err = c.readSecret("Access token: "); err != nil {
					return fmt.Errorf("read token: %w", err)
				}
			}
			if token == "" {
				return errors.New("an access token is required")
			}
			cfg.AccessToken = token
			if err := c.saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "login saved")
			return nil
		},
	}
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show API health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := c.client(false)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			payload, err := client.Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), payload)
		},
	}
}

// client resolves the base URL and token from flags, environment and the
// saved config, in that order.
func (c *cli) client(needToken bool) (*apiclient.Client, string, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, "", err
	}
	base := strings.TrimSpace(c.apiBase)
	if base == "" {
		base = cfg.APIBaseURL
	}
	token := strings.TrimSpace(c.token)
	if token == "" {
		token = cfg.AccessToken
	}
	if needToken && token == "" {
		return nil, "", errors.New("please login first using 'vlctl login'")
	}
	client, err := apiclient.New(base)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func (c *cli) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, c.timeout)
}

func (c *cli) promptSecret(prompt string) (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprint(os.Stderr, "\n")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) loadConfig() (cliConfig, error) {
	path, err := c.configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func (c *cli) saveConfig(cfg cliConfig) error {
	path, err := c.configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "vlctl", "config.json"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
