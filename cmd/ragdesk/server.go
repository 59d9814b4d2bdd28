package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ragdesk/internal/api"
	"github.com/kalambet/ragdesk/internal/library"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/studio"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve ragdesk tools over MCP (stdio)",
	Long: `Serve ragdesk as an MCP server on stdin/stdout so agent tools can ask
questions, list and delete documents, and generate study material.

Logs go to stderr; stdout carries the protocol only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		// Tool results carry outcomes; terminal notifications would only add noise on stderr.
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Querier:        a.client,
			Library:        library.New(a.client, notify.Discard),
			Studio:         studio.NewTracker(a.client, studio.NewStore(), a.cfg.Studio.Enabled, notify.Discard),
			Name:           a.cfg.App.Name,
			Version:        version,
			MaxSourceChars: 1000,
		})

		slog.Info("MCP server started (stdio transport)", "backend", a.cfg.API.BaseURL)
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
			return err
		}
		return nil
	},
}
