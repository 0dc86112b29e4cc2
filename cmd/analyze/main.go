package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type result struct {
	Agent        string `json:"agent"`
	AnalysisType string `json:"analysis_type"`
	Content      string `json:"content"`
	RunID        string `json:"run_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

type analysis struct {
	RunID      string `json:"run_id"`
	FileName   string `json:"file_name"`
	Characters int    `json:"characters"`
	DurationMS int64  `json:"duration_ms"`
	Degraded   int    `json:"degraded"`
	Results    struct {
		Structure    result `json:"structure_analysis"`
		Legal        result `json:"legal_analysis"`
		Negotiation  result `json:"negotiation_analysis"`
		Consolidated result `json:"consolidated_report"`
	} `json:"results"`
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Contract analyzer server URL")
	file := flag.String("file", "", "Contract to analyze (PDF or DOCX)")
	out := flag.String("out", "", "Write the JSON export to this path")
	agents := flag.Bool("agents", false, "List the analysis agents and exit")
	flag.Parse()

	if *agents {
		if err := fetchAgents(*server); err != nil {
			printError("Failed to fetch agents: %v", err)
			os.Exit(1)
		}
		return
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze -file contract.pdf [-server URL] [-out results.json]")
		os.Exit(2)
	}

	fmt.Printf("Uploading %s to %s ...\n", filepath.Base(*file), *server)
	raw, a, err := upload(*server, *file)
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}

	fmt.Printf("\033[32m✅ Analysis complete\033[0m  run %s · %d characters · %.1fs\n",
		a.RunID, a.Characters, float64(a.DurationMS)/1000)
	if a.Degraded > 0 {
		fmt.Printf("\033[33m⚠️  %d agent(s) degraded\033[0m\n", a.Degraded)
	}
	printSection("🏗️", "Structure Analysis", a.Results.Structure)
	printSection("⚖️", "Legal Analysis", a.Results.Legal)
	printSection("🤝", "Negotiation Analysis", a.Results.Negotiation)
	fmt.Println("──────────────────────────────")
	printSection("👔", "Executive Report", a.Results.Consolidated)

	if *out != "" {
		if err := os.WriteFile(*out, raw, 0o644); err != nil {
			printError("Failed to write %s: %v", *out, err)
			os.Exit(1)
		}
		fmt.Printf("Results written to %s\n", *out)
	}
}

// upload posts the file and returns the indented export along with the
// decoded response.
func upload(server, path string) ([]byte, *analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, nil, err
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Post(server+"/api/analyses", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			return nil, nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return nil, nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, payload)
	}

	var a analysis
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, nil, fmt.Errorf("parse response: %w", err)
	}
	export, err := json.MarshalIndent(a.Results, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return export, &a, nil
}

func printSection(icon, title string, r result) {
	fmt.Printf("\n\033[1m%s %s\033[0m \033[36m(%s)\033[0m\n\n", icon, title, r.Agent)
	if r.Content == "" {
		fmt.Println("No analysis available")
		return
	}
	fmt.Println(r.Content)
}

func fetchAgents(server string) error {
	resp, err := http.Get(server + "/api/agents")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var agents []struct {
		ID           string `json:"id"`
		AnalysisType string `json:"analysis_type"`
		Icon         string `json:"icon"`
		Summary      string `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return fmt.Errorf("parse agents: %w", err)
	}
	fmt.Println("Analysis agents:")
	for _, a := range agents {
		fmt.Printf("  %s %s (%s): %s\n", a.Icon, a.ID, a.AnalysisType, a.Summary)
	}
	return nil
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
