package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/itsbakr/weave-tutor/pkg/mcpserver"
)

var (
	mcpURL    string
	mcpAPIKey string
	mcpArgs   string

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Talk to a running tutorpilot server over MCP",
	}
	mcpToolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server offers",
		Args:  cobra.NoArgs,
		RunE:  runMCPTools,
	}
	mcpCallCmd = &cobra.Command{
		Use:   "call [tool]",
		Short: "Call a tool with JSON arguments and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runMCPCall,
	}
)

func init() {
	mcpCmd.PersistentFlags().StringVar(&mcpURL, "url", "http://localhost:8080/mcp", "MCP endpoint")
	mcpCmd.PersistentFlags().StringVar(&mcpAPIKey, "api-key", os.Getenv("TUTORPILOT_API_KEY"), "API key sent as X-API-Key")
	mcpCallCmd.Flags().StringVar(&mcpArgs, "args", "{}", "tool arguments as a JSON object")

	mcpCmd.AddCommand(mcpToolsCmd, mcpCallCmd)
	rootCmd.AddCommand(mcpCmd)
}

func dialMCP(cmd *cobra.Command) (*mcp.ClientSession, error) {
	cfg := mcpserver.ClientConfig{URL: mcpURL}
	if mcpAPIKey != "" {
		cfg.Headers = map[string]string{"X-API-Key": mcpAPIKey}
	}
	return mcpserver.Dial(cmd.Context(), cfg)
}

func runMCPTools(cmd *cobra.Command, _ []string) error {
	session, err := dialMCP(cmd)
	if err != nil {
		return err
	}
	defer session.Close()

	res, err := session.ListTools(cmd.Context(), nil)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	for _, tool := range res.Tools {
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", tool.Name, tool.Description)
	}
	return nil
}

func runMCPCall(cmd *cobra.Command, args []string) error {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(mcpArgs), &arguments); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	session, err := dialMCP(cmd)
	if err != nil {
		return err
	}
	defer session.Close()

	res, err := session.CallTool(cmd.Context(), &mcp.CallToolParams{Name: args[0], Arguments: arguments})
	if err != nil {
		return fmt.Errorf("calling %s: %w", args[0], err)
	}
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			fmt.Fprintln(cmd.OutOrStdout(), text.Text)
		}
	}
	if res.IsError {
		return exitCodeError(2)
	}
	return nil
}
