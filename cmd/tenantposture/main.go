// TenantPosture - Microsoft 365 Tenant Security Posture Assessment
//
// Main CLI entrypoint. Provides commands for running assessments,
// generating reports, exporting results, and exposing runs via MCP.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/PiotrMackowski/TenantPosture/internal/advisor"
	"github.com/PiotrMackowski/TenantPosture/internal/assessment"
	"github.com/PiotrMackowski/TenantPosture/internal/graph"
	"github.com/PiotrMackowski/TenantPosture/internal/mcpserver"
	csvreport "github.com/PiotrMackowski/TenantPosture/internal/report/csv"
	jsonreport "github.com/PiotrMackowski/TenantPosture/internal/report/json"
	"github.com/PiotrMackowski/TenantPosture/internal/store"
	"github.com/PiotrMackowski/TenantPosture/internal/store/snowflake"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tenantposture",
		Short: "TenantPosture - Microsoft 365 Tenant Security Posture Assessment",
		Long: `TenantPosture assesses a Microsoft 365 / Entra tenant for security
misconfigurations across identity, devices, Exchange, data protection,
privileged access, applications, audit logging, collaboration, and Defender.

Credentials are read from environment variables:
  GRAPH_TENANT_ID     - Entra tenant ID to assess
  GRAPH_CLIENT_ID     - App registration client ID
  GRAPH_CLIENT_SECRET - App registration client secret
  GRAPH_BASE_URL      - Graph endpoint override (optional)
  GRAPH_AUTHORITY     - Token endpoint host override (optional)`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newAssessCmd(),
		newReportCmd(),
		newExportCmd(),
		newPermissionsCmd(),
		newMCPCmd(),
		newDomainsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// --- Helper Functions ---

func envOrFlag(cmd *cobra.Command, flag, env string) string {
	val, _ := cmd.Flags().GetString(flag)
	if val != "" {
		return val
	}
	return os.Getenv(env)
}

// newGraphClient builds a Graph client from environment variables and flags.
func newGraphClient(cmd *cobra.Command) (*graph.Client, string, error) {
	rateLimit, _ := cmd.Flags().GetFloat64("rate-limit")
	config := graph.ConfigFromEnv(os.Getenv, rateLimit)
	if t := envOrFlag(cmd, "tenant", "GRAPH_TENANT_ID"); t != "" {
		config.TenantID = t
	}

	client, err := graph.NewClient(config)
	if err != nil {
		return nil, "", fmt.Errorf("creating Graph client: %w", err)
	}
	return client, config.TenantID, nil
}

// loadPolicy returns the scoring policy from the --scoring flag or the
// embedded default.
func loadPolicy(cmd *cobra.Command) (assessment.ScoringPolicy, error) {
	path, _ := cmd.Flags().GetString("scoring")
	if path == "" {
		return assessment.DefaultScoringPolicy(), nil
	}
	return assessment.LoadScoringPolicy(path)
}

// writeReport writes a run result to the specified output format.
func writeReport(result *assessment.RunResult, output, format string) error {
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	switch format {
	case "json":
		reporter := &jsonreport.Reporter{}
		return reporter.Generate(f, result)
	case "csv":
		reporter := &csvreport.Reporter{}
		return reporter.Generate(f, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// --- Commands ---

func newAssessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run a full tenant assessment (collect + normalize + score + report)",
		Long: `Connects to Microsoft Graph, assesses every registered domain module,
scores the tenant, persists the run, and optionally generates a report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			client, tenantID, err := newGraphClient(cmd)
			if err != nil {
				return err
			}

			policy, err := loadPolicy(cmd)
			if err != nil {
				return err
			}

			storeDir, _ := cmd.Flags().GetString("store")
			runStore, err := store.NewJSONStore(storeDir)
			if err != nil {
				return err
			}

			logger := log.New(os.Stderr, "", log.LstdFlags)
			orch := assessment.NewOrchestrator(client, policy, logger)
			orch.Store = runStore
			orch.Workers, _ = cmd.Flags().GetInt("workers")
			orch.SaveRaw, _ = cmd.Flags().GetBool("save-raw")

			// Optional AI commentary via Gemini.
			if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
				modelName, _ := cmd.Flags().GetString("ai-model")
				adv, err := advisor.New(ctx, apiKey, modelName)
				if err != nil {
					return fmt.Errorf("creating advisor: %w", err)
				}
				defer adv.Close()
				orch.Commentator = adv
			}

			result, err := orch.Run(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("assessment failed: %w", err)
			}

			run := result.Run
			log.Printf("Run %s finished: status %s, overall score %.1f (%s)",
				run.ID, run.Status, run.OverallScore, run.Grade)
			log.Printf("Run saved to %s", runStore.RunPath(run.ID))

			output, _ := cmd.Flags().GetString("output")
			if output != "" {
				format, _ := cmd.Flags().GetString("format")
				if err := writeReport(result, output, format); err != nil {
					return err
				}
				log.Printf("Report written to %s", output)
			}

			if run.Status == assessment.StatusFailed {
				return fmt.Errorf("assessment run failed: %s", run.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().String("tenant", "", "Entra tenant ID (or set GRAPH_TENANT_ID)")
	cmd.Flags().String("store", "posture-data", "Directory for persisted runs")
	cmd.Flags().String("output", "", "Also write a report to this file")
	cmd.Flags().String("format", "json", "Report format: json or csv")
	cmd.Flags().String("scoring", "", "Path to a scoring policy YAML (default: embedded)")
	cmd.Flags().String("ai-model", "", "Gemini model for commentary (requires GEMINI_API_KEY)")
	cmd.Flags().Int("workers", 3, "Max domains assessed in parallel")
	cmd.Flags().Float64("rate-limit", 10.0, "Max API requests per second")
	cmd.Flags().Bool("save-raw", false, "Also persist raw collected payloads")

	return cmd
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report from a saved run",
		Long:  `Loads a previously saved run and writes it as a JSON or CSV report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runPath, _ := cmd.Flags().GetString("run")
			output, _ := cmd.Flags().GetString("output")
			format, _ := cmd.Flags().GetString("format")

			result, err := store.LoadRun(runPath)
			if err != nil {
				return err
			}
			log.Printf("Loaded run %s (score %.1f, grade %s)",
				result.Run.ID, result.Run.OverallScore, result.Run.Grade)

			if err := writeReport(result, output, format); err != nil {
				return err
			}
			log.Printf("Report written to %s", output)

			return nil
		},
	}

	cmd.Flags().String("run", "", "Path to a saved run file")
	cmd.Flags().String("output", "report.json", "Output file path")
	cmd.Flags().String("format", "json", "Report format: json or csv")
	cmd.MarkFlagRequired("run")

	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a saved run to a Snowflake warehouse",
		Long: `Loads a previously saved run and inserts it into the warehouse tables
for fleet-level analytics. The DSN is read from --dsn or SNOWFLAKE_DSN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			runPath, _ := cmd.Flags().GetString("run")
			dsn := envOrFlag(cmd, "dsn", "SNOWFLAKE_DSN")

			result, err := store.LoadRun(runPath)
			if err != nil {
				return err
			}

			exporter, err := snowflake.NewExporter(dsn)
			if err != nil {
				return err
			}
			defer exporter.Close()

			if err := exporter.SaveRun(ctx, result); err != nil {
				return fmt.Errorf("exporting run: %w", err)
			}
			log.Printf("Run %s exported", result.Run.ID)

			return nil
		},
	}

	cmd.Flags().String("run", "", "Path to a saved run file")
	cmd.Flags().String("dsn", "", "Snowflake DSN (or set SNOWFLAKE_DSN)")
	cmd.MarkFlagRequired("run")

	return cmd
}

func newPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Check which Graph permissions the app registration is granted",
		Long: `Validates every registered domain module's required permissions against
the app registration's granted roles and reports which domains would be skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			client, _, err := newGraphClient(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("%-24s %-40s %s\n", "DOMAIN", "REQUIRED PERMISSIONS", "STATUS")
			fmt.Println("--------------------------------------------------------------------------------")

			modules := assessment.Modules()
			skipped := 0
			for _, m := range modules {
				missing := assessment.ValidatePermissions(ctx, client, m)
				status := "ok"
				if len(missing) > 0 {
					status = "missing: " + strings.Join(missing, ", ")
					skipped++
				}
				fmt.Printf("%-24s %-40s %s\n", m.Domain(), strings.Join(m.RequiredPermissions(), ", "), status)
			}
			fmt.Printf("\n%d of %d domains would be skipped\n", skipped, len(modules))

			return nil
		},
	}

	cmd.Flags().String("tenant", "", "Entra tenant ID (or set GRAPH_TENANT_ID)")
	cmd.Flags().Float64("rate-limit", 10.0, "Max API requests per second")

	return cmd
}

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI-assisted run analysis",
		Long: `Starts a Model Context Protocol (MCP) server over stdio.
Loads a saved run and exposes its findings and scores as MCP tools
and resources for AI-assisted analysis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runPath, _ := cmd.Flags().GetString("run")

			result, err := store.LoadRun(runPath)
			if err != nil {
				return err
			}
			log.Printf("Loaded run %s for tenant %s (score %.1f, grade %s)",
				result.Run.ID, result.Run.TenantID, result.Run.OverallScore, result.Run.Grade)

			mcpSrv := mcpserver.NewMCPServer(&mcpserver.RunData{Result: result})

			log.Println("Starting MCP server on stdio...")
			if err := server.ServeStdio(mcpSrv); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().String("run", "", "Path to a saved run file")
	cmd.MarkFlagRequired("run")

	return cmd
}

func newDomainsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Manage and list available assessment domains",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all registered assessment domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%-24s %-24s %s\n", "DOMAIN", "NAME", "DESCRIPTION")
			fmt.Println("--------------------------------------------------------------------------------")
			modules := assessment.Modules()
			for _, m := range modules {
				fmt.Printf("%-24s %-24s %s\n", m.Domain(), m.Name(), m.Description())
			}
			fmt.Printf("\nTotal: %d domains\n", len(modules))

			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}
