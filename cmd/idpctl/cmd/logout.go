package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	idpecho "go.pilab.hu/idp/api/echo"
	"go.pilab.hu/idp/log"
)

const adminLogoutPath = "/v1/admin/logout"

var logoutCmd = &cobra.Command{
	Use:   "logout <user-id>",
	Short: "End every session of a user",
	Long: `Invalidates all active refresh tokens of the user on a running server.
With --client only the sessions held by that client are ended.

The server address, tenant and admin token come from flags or from the
IDPCTL_SERVER, IDPCTL_TENANT and IDPCTL_ADMIN_TOKEN environment variables.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server := viper.GetString("server")
		tenant := viper.GetString("tenant")
		token := viper.GetString("admin_token")
		if tenant == "" {
			return fmt.Errorf("tenant is required")
		}
		if token == "" {
			return fmt.Errorf("admin token is required")
		}

		client := &http.Client{
			Timeout:   viper.GetDuration("timeout"),
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		revoked, err := adminLogout(cmd.Context(), client, server, tenant, token, args[0], viper.GetString("client"))
		if err != nil {
			return err
		}

		appLogger.Debug(cmd.Context(), "Admin logout completed", log.Fields{"user_id": args[0], "revoked": revoked})
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s)\n", revoked)
		return nil
	},
}

// adminLogout calls the admin logout endpoint and returns the number of
// sessions the server ended.
func adminLogout(ctx context.Context, client *http.Client, server, tenant, token, userID, clientID string) (int64, error) {
	form := url.Values{"user_id": {userID}}
	if clientID != "" {
		form.Set("client_id", clientID)
	}

	endpoint := strings.TrimRight(server, "/") + adminLogoutPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(idpecho.TenantHeader, tenant)

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var body struct {
		Revoked          int64  `json:"revoked"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Error != "" {
			return 0, fmt.Errorf("server responded %d: %s: %s", resp.StatusCode, body.Error, body.ErrorDescription)
		}
		return 0, fmt.Errorf("server responded %d", resp.StatusCode)
	}
	return body.Revoked, nil
}

func init() {
	logoutCmd.Flags().String("server", "http://localhost:8080", "base URL of the idp server")
	logoutCmd.Flags().String("tenant", "", "tenant id")
	logoutCmd.Flags().String("admin-token", "", "admin token")
	logoutCmd.Flags().String("client", "", "only end sessions held by this client")
	logoutCmd.Flags().Duration("timeout", 10*time.Second, "request timeout")

	_ = viper.BindPFlag("server", logoutCmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("tenant", logoutCmd.Flags().Lookup("tenant"))
	_ = viper.BindPFlag("admin_token", logoutCmd.Flags().Lookup("admin-token"))
	_ = viper.BindPFlag("client", logoutCmd.Flags().Lookup("client"))
	_ = viper.BindPFlag("timeout", logoutCmd.Flags().Lookup("timeout"))

	viper.SetEnvPrefix("IDPCTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(logoutCmd)
}
