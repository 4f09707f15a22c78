package cli

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docsign/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metadata database migrations",
	Long:  `Opens the metadata store, which creates or updates its tables, then exits.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for session tokens",
	Args:  cobra.NoArgs,
	RunE:  runKeygen,
}

var (
	migrateDatabaseURL string
	keygenOutDir       string
	keygenBits         int
	keygenPrefix       string
)

func init() {
	migrateCmd.Flags().StringVar(&migrateDatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres DSN or sqlite:<path>")
	keygenCmd.Flags().StringVar(&keygenOutDir, "out-dir", ".", "Directory for the PEM files")
	keygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA key size")
	keygenCmd.Flags().StringVar(&keygenPrefix, "prefix", "jwt", "File name prefix")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keygenCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := strings.TrimSpace(migrateDatabaseURL)
	if dsn == "" {
		return errors.New("--database-url is required")
	}
	s, err := store.NewGormStore(dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	cmd.Println("Migrations applied")
	return nil
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	if keygenBits < 2048 {
		return errors.New("--bits must be at least 2048")
	}
	key, err := rsa.GenerateKey(rand.Reader, keygenBits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privatePEM, publicPEM, err := store.EncodeRSAKeyPair(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(keygenOutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	privatePath := filepath.Join(keygenOutDir, keygenPrefix+"-private.pem")
	publicPath := filepath.Join(keygenOutDir, keygenPrefix+"-public.pem")
	if _, err := os.Stat(privatePath); err == nil {
		return fmt.Errorf("%s already exists", privatePath)
	}
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	cmd.Printf("Private key: %s\n", privatePath)
	cmd.Printf("Public key:  %s\n", publicPath)
	return nil
}
