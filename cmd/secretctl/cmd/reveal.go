package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var grantTTL int64

var revealCmd = &cobra.Command{
	Use:   "reveal <token> <handle>",
	Short: "Decrypt a ciphertext handle under a reveal grant",
	Args:  cobra.ExactArgs(2),
	RunE:  runReveal,
}

var grantCmd = &cobra.Command{
	Use:   "grant <handle>...",
	Short: "Issue a reveal grant token for the caller's handles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGrant,
}

func init() {
	rootCmd.AddCommand(revealCmd)
	revealCmd.AddCommand(grantCmd)

	grantCmd.Flags().Int64Var(&grantTTL, "ttl", 300, "grant lifetime in seconds")
}

func runGrant(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodPost, "/v1/reveal/grants", map[string]interface{}{
		"handles":     args,
		"ttl_seconds": grantTTL,
	})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runReveal(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodPost, "/v1/reveal", map[string]string{
		"token":  args[0],
		"handle": args[1],
	})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}
