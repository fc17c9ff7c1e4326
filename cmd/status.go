package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server status or a specific run",
	Long: `Queries the server for run status information.
If no run-id is provided, lists all runs.
If run-id is provided, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		url := fmt.Sprintf("%s/api/v1/runs", serverURL)
		return listServerRuns(url)
	}
	runID := args[0]
	url := fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, runID)
	return getRunStatus(url, runID)
}

func listServerRuns(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var runs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("Found %d run(s):\n\n", len(runs))
	for _, run := range runs {
		fmt.Printf("Run ID: %s\n", run["id"])
		fmt.Printf("  State: %s\n", run["state"])
		if config, ok := run["config"].(map[string]interface{}); ok {
			fmt.Printf("  Env: %s\n", config["env"])
			fmt.Printf("  Strategy: %s\n", config["strategy"])
		}
		if best, ok := run["bestReward"].(float64); ok && best != 0 {
			fmt.Printf("  Best reward: %.3f\n", best)
		}
		fmt.Println()
	}

	return nil
}

func getRunStatus(url, runID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Run: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	if config, ok := status["config"].(map[string]interface{}); ok {
		fmt.Println("Configuration:")
		fmt.Printf("  Env: %s\n", config["env"])
		fmt.Printf("  Strategy: %s\n", config["strategy"])
		fmt.Printf("  Generations: %v\n", config["generations"])
		fmt.Printf("  Episodes: %v\n", config["evalEpisodes"])
		fmt.Printf("  Hidden size: %v\n", config["hiddenSize"])
		fmt.Printf("  Seed: %v\n", config["seed"])
		fmt.Println()
	}

	fmt.Println("Progress:")
	if generation, ok := status["generation"].(float64); ok {
		fmt.Printf("  Generation: %.0f\n", generation)
	}
	if best, ok := status["bestReward"].(float64); ok {
		fmt.Printf("  Best reward: %.3f\n", best)
	}
	if final, ok := status["finalReward"].(float64); ok {
		fmt.Printf("  Final reward: %.3f\n", final)
	}
	if converged, ok := status["converged"].(bool); ok && converged {
		fmt.Println("  Converged: yes")
	}

	if elapsed, ok := status["elapsed"].(float64); ok {
		fmt.Printf("  Elapsed: %s\n", time.Duration(elapsed*float64(time.Second)).Round(time.Millisecond))
	}
	if gps, ok := status["gps"].(float64); ok && gps > 0 {
		fmt.Printf("  Throughput: %.1f generations/sec\n", gps)
	}

	if errMsg, ok := status["error"].(string); ok && errMsg != "" {
		fmt.Printf("\nError: %s\n", errMsg)
	}

	return nil
}
