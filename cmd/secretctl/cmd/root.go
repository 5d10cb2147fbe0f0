package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	caller     string
)

var rootCmd = &cobra.Command{
	Use:   "secretctl",
	Short: "Operator CLI for the confidential settlement ledger",
	Long: `secretctl drives the ledger daemon over its HTTP API.

It covers custody movements, the owner price table, position lifecycle
and reveal grants:

  secretctl deposit 0xalice 1000000
  secretctl price set TOKENA 5787 --caller 0xowner
  secretctl open TOKENA --ciphertext <b64> --ciphertext <b64> --proof <b64> --caller 0xalice
  secretctl close 1 64 --caller 0xalice
  secretctl reveal <token> <handle> --caller 0xalice`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "ledger daemon base URL")
	rootCmd.PersistentFlags().StringVar(&caller, "caller", "", "caller address sent as X-Caller-Address")
}

// doRequest performs an HTTP call against the daemon and decodes the
// JSON response. Non-2xx responses are returned as errors carrying the
// server's error message.
func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequest(method, serverAddr+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-Address", caller)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		if msg, ok := decoded["error"].(string); ok {
			return nil, fmt.Errorf("%s (HTTP %d)", msg, resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return decoded, nil
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
