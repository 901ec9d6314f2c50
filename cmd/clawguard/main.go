package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const logo = `
   _____ _                _____                     _
  / ____| |              / ____|                   | |
 | |    | | __ ___      _| |  __ _   _  __ _ _ __ __| |
 | |    | |/ _' \ \ /\ / / | |_ | | | |/ _' | '__/ _' |
 | |____| | (_| |\ V  V /| |__| | |_| | (_| | | | (_| |
  \_____|_|\__,_| \_/\_/  \_____|\__,_|\__,_|_|  \__,_|
`

func main() {
	rootCmd := &cobra.Command{
		Use:           "clawguard",
		Short:         "Security sidecar for OpenClaw agents",
		Long:          color.CyanString(logo) + "\nPrompt-injection detection, tool gating, rate limiting and outbound redaction for agent runtimes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configFile string
	var addr string

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ClawGuard hook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, addr)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: clawguard.yaml)")
	startCmd.Flags().StringVarP(&addr, "addr", "a", "", "Override listen address (default: 127.0.0.1:6780)")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter clawguard.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── check ───
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single catalog against input",
	}
	checkCmd.AddCommand(
		&cobra.Command{
			Use:   "command <cmd>",
			Short: "Check a shell command against the dangerous-command catalog",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCheckCommand(cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:   "url <url>",
			Short: "Check a URL against the suspicious-URL and exfiltration catalogs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCheckURL(cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:   "inbound <text>",
			Short: "Scan a message for prompt injection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCheckInbound(cmd.OutOrStdout(), args[0])
			},
		},
	)

	// ─── redact ───
	redactCmd := &cobra.Command{
		Use:   "redact",
		Short: "Redact sensitive data from stdin to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedact(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	// ─── audit ───
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log commands",
	}
	var listEvent string
	var listLimit int
	auditListCmd := &cobra.Command{
		Use:   "list <sqlite-path>",
		Short: "List recent audit records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditList(cmd.OutOrStdout(), args[0], listEvent, listLimit)
		},
	}
	auditListCmd.Flags().StringVarP(&listEvent, "event", "e", "", "Only show this event")
	auditListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum records")
	auditCmd.AddCommand(
		&cobra.Command{
			Use:   "verify <sqlite-path>",
			Short: "Verify the audit hash chain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAuditVerify(cmd.OutOrStdout(), args[0])
			},
		},
		auditListCmd,
	)

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status of a running sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), configFile, addr)
		},
	}
	statusCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	statusCmd.Flags().StringVarP(&addr, "addr", "a", "", "Sidecar address")

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ClawGuard %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(startCmd, initCmd, checkCmd, redactCmd, auditCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func findConfigFile() string {
	candidates := []string{
		"clawguard.yaml",
		"clawguard.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "clawguard", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
