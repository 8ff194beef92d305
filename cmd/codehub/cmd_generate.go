package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// validKind checks a generation kind argument
func validKind(kind string) error {
	switch kind {
	case "exercise", "tutorial":
		return nil
	default:
		return fmt.Errorf("kind must be exercise or tutorial, got %q", kind)
	}
}

// cmdGenerate runs a synchronous generation and prints the envelope
func cmdGenerate(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: codehub generate <exercise|tutorial> <file|->")
	}
	if err := validKind(args[0]); err != nil {
		return err
	}
	body, err := readRequest(args[1])
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if err := daemonPost("/v1/generate/"+args[0], body, &raw); err != nil {
		return err
	}

	var meta struct {
		Warnings     []string `json:"warnings"`
		Model        string   `json:"model"`
		GenerationID string   `json:"generation_id"`
		Cached       bool     `json:"cached"`
	}
	if err := json.Unmarshal(raw, &meta); err == nil {
		cached := ""
		if meta.Cached {
			cached = " (cached)"
		}
		fmt.Fprintf(os.Stderr, "generation %s via %s%s\n", meta.GenerationID, meta.Model, cached)
		for _, w := range meta.Warnings {
			fmt.Fprintf(os.Stderr, "  warning: %s\n", w)
		}
	}

	return printJSON(raw)
}

// cmdPrompt previews the assembled prompt without calling a provider
func cmdPrompt(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: codehub prompt <exercise|tutorial> <file|->")
	}
	if err := validKind(args[0]); err != nil {
		return err
	}
	body, err := readRequest(args[1])
	if err != nil {
		return err
	}

	var preview struct {
		System string `json:"system"`
		Prompt string `json:"prompt"`
	}
	if err := daemonPost("/v1/prompt/preview?kind="+args[0], body, &preview); err != nil {
		return err
	}

	fmt.Println("=== System ===")
	fmt.Println(preview.System)
	fmt.Println()
	fmt.Println("=== Prompt ===")
	fmt.Println(preview.Prompt)
	return nil
}

// cmdModels lists the model catalog
func cmdModels() error {
	var resp struct {
		Models []struct {
			ID          string `json:"id"`
			Vendor      string `json:"vendor"`
			DisplayName string `json:"display_name"`
		} `json:"models"`
	}
	if err := daemonGet("/v1/models", &resp); err != nil {
		return err
	}

	fmt.Println("Available Models:")
	for _, m := range resp.Models {
		fmt.Printf("  %-40s %-10s %s\n", m.ID, m.Vendor, m.DisplayName)
	}
	return nil
}

// cmdJobs submits and inspects async generations
func cmdJobs(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Job commands:

  codehub jobs submit <exercise|tutorial> <file|->   Queue a generation
  codehub jobs get <id>                              Show job status`)
		return nil
	}

	switch args[0] {
	case "submit":
		if len(args) < 3 {
			return fmt.Errorf("usage: codehub jobs submit <exercise|tutorial> <file|->")
		}
		return cmdJobSubmit(args[1], args[2])
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("job id required")
		}
		return cmdJobGet(args[1])
	default:
		return fmt.Errorf("unknown jobs command: %s", args[0])
	}
}

func cmdJobSubmit(kind, source string) error {
	if err := validKind(kind); err != nil {
		return err
	}
	request, err := readRequest(source)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"kind":    kind,
		"request": json.RawMessage(request),
	})
	if err != nil {
		return err
	}

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := daemonPost("/v1/jobs", body, &resp); err != nil {
		return err
	}

	fmt.Printf("✓ Job %s queued (%s)\n", resp.JobID, resp.Status)
	fmt.Printf("Check it with: codehub jobs get %s\n", resp.JobID)
	return nil
}

func cmdJobGet(id string) error {
	var raw json.RawMessage
	if err := daemonGet("/v1/jobs/"+id, &raw); err != nil {
		return err
	}
	return printJSON(raw)
}

// generationSummary is a history record without its artifact
type generationSummary struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ModelID    string    `json:"model_id"`
	Topic      string    `json:"topic"`
	Language   string    `json:"language"`
	Difficulty int       `json:"difficulty"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// cmdHistory lists recent generations or shows one in full
func cmdHistory(args []string) error {
	if len(args) > 0 && args[0] == "show" {
		if len(args) < 2 {
			return fmt.Errorf("generation id required")
		}
		var raw json.RawMessage
		if err := daemonGet("/v1/history/"+args[1], &raw); err != nil {
			return err
		}
		return printJSON(raw)
	}

	path := "/v1/history"
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("limit must be an integer, got %q", args[0])
		}
		path += "?limit=" + args[0]
	}

	var resp struct {
		Generations []generationSummary `json:"generations"`
		Count       int                 `json:"count"`
	}
	if err := daemonGet(path, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No generations recorded yet.")
		return nil
	}

	fmt.Printf("%-36s  %-8s  %-9s  %-5s  %s\n", "ID", "KIND", "STATUS", "LEVEL", "TOPIC")
	for _, g := range resp.Generations {
		fmt.Printf("%-36s  %-8s  %-9s  %-5d  %s\n", g.ID, g.Kind, g.Status, g.Difficulty, truncate(g.Topic, 48))
	}
	fmt.Printf("\n%d generation(s)\n", resp.Count)
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
