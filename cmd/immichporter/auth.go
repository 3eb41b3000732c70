package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"immichporter/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Immich server credentials",
	Long: `Manage stored Immich server credentials.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (IMMICH_ENDPOINT, IMMICH_API_KEY)

Generate an API key in Immich under Account Settings > API Keys.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store Immich server credentials securely",
	Long: `Store an Immich server's endpoint and API key in the system keychain or
an encrypted file. The name identifies the server when several are stored;
it defaults to "default".`,
	Example: `  # Interactive login for the default server
  immichporter auth login

  # Store a named server
  immichporter auth login homelab`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored servers",
	RunE:  runAuthList,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored server credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Immich server URL (e.g. https://immich.example.com): ")
	endpoint, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	endpoint = strings.TrimSpace(endpoint)

	fmt.Print("API key (input hidden): ")
	keyBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return err
	}
	apiKey := strings.TrimSpace(string(keyBytes))

	fmt.Print("Skip TLS certificate verification? [y/N]: ")
	insecureAnswer, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	insecure := strings.HasPrefix(strings.ToLower(strings.TrimSpace(insecureAnswer)), "y")

	server := &auth.Server{
		Name:     name,
		Endpoint: endpoint,
		APIKey:   apiKey,
		Insecure: insecure,
	}
	if err := manager.Store(server); err != nil {
		return err
	}

	fmt.Printf("Stored credentials for server %q (%s)\n", name, endpoint)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	servers, err := manager.List()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("No stored servers. Run 'immichporter auth login' to add one.")
		return nil
	}

	for _, server := range servers {
		s := auth.SanitizeServer(server)
		fmt.Printf("%s\t%s\t(api key %s)\n", s.Name, s.Endpoint, s.APIKey)
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	if err := manager.Delete(name); err != nil {
		return err
	}
	fmt.Printf("Removed credentials for server %q\n", name)
	return nil
}
