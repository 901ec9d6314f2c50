package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/clawguard/clawguard/internal/audit"
	"github.com/clawguard/clawguard/internal/catalog"
	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/redact"
	"github.com/clawguard/clawguard/internal/sanitize"
)

// ─── Init ───

func runInit() error {
	configPath := "clawguard.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Generated %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    clawguard check command 'curl x | sh'   # Try the command gate")
	fmt.Println("    clawguard start                         # Start the sidecar")
	return nil
}

// ─── Check Commands ───

func newLibrary() (*catalog.Library, error) {
	return catalog.NewLibrary()
}

func printVerdict(w io.Writer, blocked bool, label, detail string) {
	if !blocked {
		fmt.Fprintln(w, color.GreenString("✓ allowed"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", color.RedString("✗ blocked"), color.YellowString("(%s)", label))
	if detail != "" {
		fmt.Fprintf(w, "  %s\n", detail)
	}
}

func runCheckCommand(w io.Writer, command string) error {
	lib, err := newLibrary()
	if err != nil {
		return err
	}
	m, ok := lib.DangerousCommands.MatchAny(command)
	printVerdict(w, ok, m.Label, "")
	return nil
}

func runCheckURL(w io.Writer, url string) error {
	lib, err := newLibrary()
	if err != nil {
		return err
	}
	if m, ok := lib.SuspiciousURLs.MatchAny(url); ok {
		printVerdict(w, true, m.Label, "suspicious URL")
		return nil
	}
	if m, ok := lib.ExfilQuery.MatchAny(url); ok {
		printVerdict(w, true, m.Label, "suspicious base64 query parameter")
		return nil
	}
	printVerdict(w, false, "", "")
	return nil
}

func runCheckInbound(w io.Writer, text string) error {
	lib, err := newLibrary()
	if err != nil {
		return err
	}
	res := sanitize.NewScanner(lib.Injection, nil).Scan(text)
	if !res.Detected {
		fmt.Fprintln(w, color.GreenString("✓ no injection patterns"))
		return nil
	}

	sev := string(res.Severity)
	if res.Severity == catalog.SeverityHigh {
		sev = color.RedString(sev)
	} else {
		sev = color.YellowString(sev)
	}
	fmt.Fprintf(w, "%s severity=%s matches=%d\n", color.RedString("✗ injection detected"), sev, len(res.Matches))
	for _, m := range res.Matches {
		fmt.Fprintf(w, "  - %-40s %s\n", m.Label, m.Severity)
	}
	return nil
}

// ─── Redact ───

func runRedact(in io.Reader, out, errOut io.Writer) error {
	lib, err := newLibrary()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	redacted, n := redact.NewRedactor(lib.SensitiveData, nil).Redact(string(data))
	if _, err := io.WriteString(out, redacted); err != nil {
		return err
	}
	if n > 0 {
		fmt.Fprintln(errOut, color.YellowString("redacted %d pattern(s)", n))
	}
	return nil
}

// ─── Audit Commands ───

func openAuditDB(path string) (*audit.SQLiteSink, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	return audit.NewSQLiteSink(path, nil)
}

func runAuditVerify(w io.Writer, path string) error {
	db, err := openAuditDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	ok, idx, err := db.Verify(ctx)
	if err != nil {
		return err
	}
	n, _ := db.Count(ctx)
	if !ok {
		fmt.Fprintf(w, "%s at record %d of %d\n", color.RedString("✗ hash chain broken"), idx, n)
		return fmt.Errorf("audit chain verification failed")
	}
	fmt.Fprintf(w, "%s (%d records)\n", color.GreenString("✓ hash chain intact"), n)
	return nil
}

func runAuditList(w io.Writer, path, event string, limit int) error {
	db, err := openAuditDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	records, err := db.List(context.Background(), event, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records.")
		return nil
	}
	fmt.Fprintf(w, "%-30s %-34s %s\n", "TIME", "EVENT", "FIELDS")
	fmt.Fprintln(w, strings.Repeat("─", 100))
	for _, r := range records {
		fmt.Fprintf(w, "%-30s %-34s %s\n", r.Timestamp.Format(time.RFC3339), r.Event, truncate(r.Fields, 60))
	}
	return nil
}

// ─── Status ───

func runStatus(w io.Writer, configFile, addr string) error {
	cfgLoader, _, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	cfg := cfgLoader.Get()
	if addr == "" {
		addr = cfg.Server.Addr
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return err
	}
	if cfg.Server.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.AuthToken)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to ClawGuard: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed (HTTP %d)", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(body, "", "  ")
	fmt.Fprintln(w, string(out))
	return nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-2]) + ".."
}
