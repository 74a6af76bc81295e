// ContextForge CLI - usage analytics, realtime counters and job status from the terminal
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/contextforge/contextforge/internal/client"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	apiURL  string
	apiKey  string
	output  string
	timeout time.Duration

	out io.Writer
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "contextforge",
		Short: "Inspect ContextForge analytics and jobs",
		Long: `Query the ContextForge API from the terminal.

Connection settings come from flags or the environment:
  CONTEXTFORGE_API_URL  API base URL (default http://localhost:8080)
  CONTEXTFORGE_API_KEY  API key (cf_...)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.output != outputTable && c.output != outputJSON {
				return fmt.Errorf("--output must be %q or %q", outputTable, outputJSON)
			}
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&c.apiURL, "api-url", envOrDefault("CONTEXTFORGE_API_URL", client.DefaultBaseURL), "API base URL")
	root.PersistentFlags().StringVar(&c.apiKey, "api-key", os.Getenv("CONTEXTFORGE_API_KEY"), "API key (or set CONTEXTFORGE_API_KEY)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputTable, "Output format: table or json")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(c.analyticsCmd(), c.realtimeCmd(), c.jobsCmd())
	return root
}

func (c *cli) client() (*client.Client, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("no API key: pass --api-key or set CONTEXTFORGE_API_KEY")
	}
	return client.New(client.Config{
		BaseURL:    c.apiURL,
		APIKey:     c.apiKey,
		HTTPClient: &http.Client{Timeout: c.timeout},
	}), nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
