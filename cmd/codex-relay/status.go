package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jqwei/codex-relay/internal/account"
	"github.com/jqwei/codex-relay/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a running codex-relay instance",
	Long: `Query the /health and /pool/status endpoints of a running codex-relay
server and print the result.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	configPath, err := config.Resolve(cfgFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	base := "http://" + cfg.Server.Listen

	health, err := fetchJSON[map[string]any](client, base+"/health")
	if err != nil {
		fmt.Printf("✗ codex-relay is not running (%s)\n", cfg.Server.Listen)
		return fmt.Errorf("server not reachable: %w", err)
	}
	fmt.Printf("✓ codex-relay is running (%s)\n", cfg.Server.Listen)
	if enabled, ok := health["enabled"].(bool); ok && !enabled {
		// Pool status is gated behind the enabled flag, so stop here.
		fmt.Println("  serving is currently disabled")
		return nil
	}

	pool, err := fetchJSON[account.PoolStatus](client, base+"/pool/status")
	if err != nil {
		return fmt.Errorf("pool status not reachable: %w", err)
	}

	fmt.Printf("  strategy:  %s\n", pool.Strategy)
	fmt.Printf("  accounts:  %d total, %d active, %d cooling, %d expired\n",
		pool.TotalAccounts, pool.ActiveAccounts, pool.CoolingAccounts, pool.ExpiredAccounts)
	fmt.Printf("  requests:  %d\n", pool.RequestCount)
	fmt.Printf("  tokens:    %d\n", pool.TotalTokensUsed)
	if pool.PinnedEmail != "" {
		fmt.Printf("  pinned:    %s\n", pool.PinnedEmail)
	}

	return nil
}

func fetchJSON[T any](client *http.Client, url string) (T, error) {
	var out T

	//nolint:noctx // Simple status check doesn't need context propagation
	resp, err := client.Get(url)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s: %w", url, err)
	}
	return out, nil
}
