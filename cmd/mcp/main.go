// MCP server standalone entrypoint.
// This is a convenience binary that only starts the MCP server.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/PiotrMackowski/TenantPosture/internal/mcpserver"
	"github.com/PiotrMackowski/TenantPosture/internal/store"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: tenantposture-mcp <run.json>")
		os.Exit(1)
	}

	result, err := store.LoadRun(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to load run: %v", err)
	}

	log.Printf("Loaded run %s for tenant %s (score %.1f, grade %s)",
		result.Run.ID, result.Run.TenantID, result.Run.OverallScore, result.Run.Grade)

	mcpSrv := mcpserver.NewMCPServer(&mcpserver.RunData{Result: result})

	log.Println("Starting TenantPosture MCP server on stdio...")
	if err := server.ServeStdio(mcpSrv); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
