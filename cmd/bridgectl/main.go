package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"crossbridge/workers/handlers"

	"github.com/spf13/cobra"
)

var (
	apiURL   string
	apiToken string
)

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "CLI for the cross-chain bridge API",
	Long:  `Inspect chains, transfers and swaps, estimate fees and mint caller tokens`,
}

func client() *apiClient {
	return newAPIClient(apiURL, apiToken)
}

// getAndPrint fetches path and writes the indented body to stdout.
func getAndPrint(cmd *cobra.Command, path string, query url.Values) error {
	body, err := client().get(cmd.Context(), path, query)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), body)
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List supported chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd, "/chains", nil)
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain <chainId>",
	Short: "Show one chain's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
			return fmt.Errorf("chain id %q is not a number", args[0])
		}
		return getAndPrint(cmd, "/chains/"+args[0], nil)
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <transferId>",
	Short: "Show a transfer's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd, "/transfers/"+url.PathEscape(args[0]), nil)
	},
}

var swapCmd = &cobra.Command{
	Use:   "swap <swapId>",
	Short: "Show an atomic swap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd, "/swaps/"+url.PathEscape(args[0]), nil)
	},
}

var estimate struct {
	from, to      int64
	amount, token string
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the gas fee of a transfer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("from", strconv.FormatInt(estimate.from, 10))
		q.Set("to", strconv.FormatInt(estimate.to, 10))
		q.Set("amount", estimate.amount)
		if estimate.token != "" {
			q.Set("token", estimate.token)
		}
		return getAndPrint(cmd, "/gas/estimate", q)
	},
}

var token struct {
	address, secret string
	hours           int
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a caller token for local use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if token.hours <= 0 {
			return fmt.Errorf("--hours must be positive")
		}
		signed, err := handlers.NewAuthenticator(token.secret).Mint(token.address, time.Duration(token.hours)*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("BRIDGE_API_URL", "http://127.0.0.1:8080"), "bridge API base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "auth-token", os.Getenv("BRIDGE_API_TOKEN"), "bearer token sent with requests")

	estimateCmd.Flags().Int64Var(&estimate.from, "from", 0, "source chain id")
	estimateCmd.Flags().Int64Var(&estimate.to, "to", 0, "target chain id")
	estimateCmd.Flags().StringVar(&estimate.amount, "amount", "", "amount in base units")
	estimateCmd.Flags().StringVar(&estimate.token, "token", "", "token contract address")
	estimateCmd.MarkFlagRequired("from")
	estimateCmd.MarkFlagRequired("to")
	estimateCmd.MarkFlagRequired("amount")

	tokenCmd.Flags().StringVar(&token.address, "address", "", "caller address (token subject)")
	tokenCmd.Flags().StringVar(&token.secret, "secret", os.Getenv("BRIDGE_SERVER_JWT_SECRET"), "server jwt secret")
	tokenCmd.Flags().IntVar(&token.hours, "hours", 24, "validity in hours")
	tokenCmd.MarkFlagRequired("address")

	rootCmd.AddCommand(chainsCmd, chainCmd, transferCmd, estimateCmd, swapCmd, tokenCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
