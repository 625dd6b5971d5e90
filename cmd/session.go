package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/porthorian/procureauth"
	"github.com/porthorian/procureauth/pkg/authz"
	"github.com/porthorian/procureauth/pkg/session"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var (
		method string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the identity provider or as a demo role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := session.ParseMethod(method)
			if err != nil {
				return err
			}
			if parsed == session.MethodDemo && strings.TrimSpace(role) == "" {
				return fmt.Errorf("--role is required with --method demo")
			}

			client, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			profile, err := client.Login(cmd.Context(), parsed, role)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			name := profile.DisplayName
			if name == "" {
				name = string(profile.Role)
			}
			cmd.Printf("Logged in as %s (%s)\n", name, client.RoleDisplayName(opts.locale))
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", string(session.MethodDelegatedIdentity), "Login method: delegated_identity or demo.")
	cmd.Flags().StringVar(&role, "role", "", "Role to sign in as with --method demo.")
	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			if client.Session() == nil {
				cmd.Println("Not logged in.")
				return nil
			}
			client.Logout(cmd.Context())
			cmd.Println("Logged out.")
			return nil
		},
	}
}

func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	var reload bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session and its permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			if client.Session() != nil && reload {
				if err := client.ReloadProfile(cmd.Context()); err != nil {
					return fmt.Errorf("reload profile: %w", err)
				}
			}

			current := client.Session()
			if current == nil {
				cmd.Println("Not logged in.")
				return nil
			}
			printSession(cmd.OutOrStdout(), current, client.RoleDisplayName(opts.locale))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reload, "reload", false, "Fetch the latest profile from the backend first.")
	return cmd
}

func printSession(w io.Writer, current *procureauth.Session, roleName string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", current.Profile.DisplayName)
	if current.Profile.Title != "" {
		fmt.Fprintf(tw, "Title:\t%s\n", current.Profile.Title)
	}
	fmt.Fprintf(tw, "Role:\t%s (%s)\n", roleName, current.Profile.Role)
	fmt.Fprintf(tw, "Login:\t%s\n", current.Origin)
	if current.Profile.Demo {
		fmt.Fprintf(tw, "Demo:\tyes\n")
	}
	if current.ExpiresAt != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", current.ExpiresAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(tw, "Permissions:\t%s\n", strings.Join(current.Profile.Permissions.Names(), ", "))
	_ = tw.Flush()
}

func newRolesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List known roles and the permissions each one grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := authz.DefaultResolver()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tNAME\tPERMISSIONS")
			for _, role := range resolver.Roles() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					role,
					resolver.DisplayNameFor(role, opts.locale),
					strings.Join(resolver.PermissionsFor(role).Names(), ","),
				)
			}
			return tw.Flush()
		},
	}
}

func newCallCommand(opts *rootOptions) *cobra.Command {
	var (
		method string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "call <path-or-url>",
		Short: "Send an authenticated request, refreshing the session once if it is rejected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			target, err := resolveCallTarget(opts, args[0])
			if err != nil {
				return err
			}

			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(method), target, body)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			if data != "" {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := client.HTTP().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("%s %s: %s", req.Method, target, resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "request", "X", http.MethodGet, "HTTP method.")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body.")
	return cmd
}

// resolveCallTarget joins a relative path onto the configured backend URL.
func resolveCallTarget(opts *rootOptions, raw string) (string, error) {
	if strings.Contains(raw, "://") {
		return raw, nil
	}

	cfg, err := loadCLIConfig(opts.configPath, opts.configPath != "")
	if err != nil {
		return "", err
	}
	cfg.applyEnv()
	base := cfg.Backend.URL
	if opts.backendURL != "" {
		base = opts.backendURL
	}
	if base == "" {
		return "", fmt.Errorf("relative path %q needs a backend url", raw)
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	return parsed.JoinPath(raw).String(), nil
}
