package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/Anvoria/sessionkeeper/internal/cli"
	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
)

const kidPrefix = "key-"

// Command implements the keys management command
type Command struct{}

func (c *Command) Name() string {
	return "keys"
}

func (c *Command) Description() string {
	return "Manage RS256 signing keys (generate, list, set-active)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "generate":
		return c.runGenerate(args[1:])
	case "list":
		return c.runList(args[1:])
	case "set-active":
		return c.runSetActive(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: authly-cli keys <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  generate              Generate a new RSA key pair\n")
	fmt.Fprintf(os.Stderr, "    -kid <id>           Key ID (required)\n")
	fmt.Fprintf(os.Stderr, "    -bits <size>        Key size: 2048, 3072, or 4096 (default: 2048)\n")
	fmt.Fprintf(os.Stderr, "    -path <dir>         Custom keys directory (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  list                  List all available keys\n")
	fmt.Fprintf(os.Stderr, "  set-active <kid>      Check a key and print the config change activating it\n")
}

// keysPath returns override when set, otherwise the configured keys directory
func keysPath(override string) (string, string, error) {
	cfg, _, err := cli.LoadConfig()
	if err != nil {
		if override != "" {
			return override, "", nil
		}
		return "", "", err
	}
	if override != "" {
		return override, cfg.Auth.ActiveKID, nil
	}
	if cfg.Auth.KeysPath == "" {
		return "", "", fmt.Errorf("auth.keys_path is not configured")
	}
	return cfg.Auth.KeysPath, cfg.Auth.ActiveKID, nil
}

func (c *Command) runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	kid := fs.String("kid", "", "Key ID (required)")
	bits := fs.Int("bits", 2048, "Key size in bits (2048, 3072, or 4096)")
	customPath := fs.String("path", "", "Custom keys directory path (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	path, _, err := keysPath(*customPath)
	if err != nil {
		return err
	}

	return generateKey(os.Stdout, path, *kid, *bits)
}

func (c *Command) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	customPath := fs.String("path", "", "Custom keys directory path (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	path, active, err := keysPath(*customPath)
	if err != nil {
		return err
	}

	return listKeys(os.Stdout, path, active)
}

func (c *Command) runSetActive(args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	customPath := fs.String("path", "", "Custom keys directory path (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("key ID required")
	}

	path, _, err := keysPath(*customPath)
	if err != nil {
		return err
	}

	return setActiveKey(os.Stdout, path, fs.Arg(0))
}

func validKid(kid string) bool {
	if kid == "" {
		return false
	}
	for _, r := range kid {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func generateKey(out io.Writer, keysPath, kid string, bits int) error {
	if !validKid(kid) {
		return fmt.Errorf("key ID is required and may only contain letters, digits, '-' and '_'")
	}
	if bits != 2048 && bits != 3072 && bits != 4096 {
		return fmt.Errorf("key size must be 2048, 3072, or 4096")
	}

	if err := os.MkdirAll(keysPath, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}

	privPath := filepath.Join(keysPath, fmt.Sprintf("private-%s.pem", kid))
	pubPath := filepath.Join(keysPath, fmt.Sprintf("public-%s.pem", kid))

	if _, err := os.Stat(privPath); err == nil {
		return fmt.Errorf("key with ID %s already exists at %s", kid, privPath)
	}

	fmt.Fprintf(out, "Generating %d-bit RSA key pair...\n", bits)
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privateKeyPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := writePEM(privPath, privateKeyPEM, 0600); err != nil {
		return err
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return err
	}
	if err := writePEM(pubPath, &pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes}, 0644); err != nil {
		_ = os.Remove(privPath)
		return err
	}

	fmt.Fprintf(out, "Key pair generated successfully\n")
	fmt.Fprintf(out, "  Key ID: %s\n", kid)
	return nil
}

func writePEM(path string, block *pem.Block, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func listKeys(out io.Writer, keysPath, activeKID string) error {
	keySet, err := loadPublicKeys(keysPath)
	if err != nil {
		return err
	}

	if keySet.Len() == 0 {
		fmt.Fprintf(out, "No keys found in %s\n", keysPath)
		return nil
	}

	fmt.Fprintf(out, "Keys in %s:\n\n", keysPath)
	normalizedActiveKID := activeKID
	if normalizedActiveKID != "" && !strings.HasPrefix(normalizedActiveKID, kidPrefix) {
		normalizedActiveKID = kidPrefix + normalizedActiveKID
	}

	for i := 0; i < keySet.Len(); i++ {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}

		kid, _ := key.KeyID()
		active := ""
		if kid == normalizedActiveKID {
			active = " (ACTIVE)"
		}
		keyID := strings.TrimPrefix(kid, kidPrefix)

		var rawKey any
		if err := jwk.Export(key, &rawKey); err != nil {
			fmt.Fprintf(out, "  %s: skipped (export failed: %v)\n", kid, err)
			continue
		}
		rsaKey, ok := rawKey.(*rsa.PublicKey)
		if !ok {
			fmt.Fprintf(out, "  %s: skipped (not an RSA key)\n", kid)
			continue
		}

		fmt.Fprintf(out, "  %s%s\n", kid, active)
		fmt.Fprintf(out, "    Key size: %d bits\n", rsaKey.N.BitLen())
		fmt.Fprintf(out, "    Private:  private-%s.pem\n", keyID)
		fmt.Fprintf(out, "    Public:   public-%s.pem\n", keyID)
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Active KID: %s\n", activeKID)
	return nil
}

// loadPublicKeys loads every key pair in keysPath. Any loaded kid satisfies the active key check.
func loadPublicKeys(keysPath string) (jwk.Set, error) {
	files, err := os.ReadDir(keysPath)
	if err != nil {
		return nil, fmt.Errorf("keys directory invalid: %s", keysPath)
	}

	for _, f := range files {
		name := f.Name()
		if !f.IsDir() && strings.HasPrefix(name, "private-") && strings.HasSuffix(name, ".pem") {
			kid := strings.TrimSuffix(strings.TrimPrefix(name, "private-"), ".pem")
			ks, err := token.LoadKeys(keysPath, kid, clock.System())
			if err != nil {
				return nil, fmt.Errorf("failed to load keys: %w", err)
			}
			return ks.JWKS(), nil
		}
	}

	return jwk.NewSet(), nil
}

func setActiveKey(out io.Writer, keysPath, kid string) error {
	if _, err := token.LoadKeys(keysPath, kid, clock.System()); err != nil {
		return fmt.Errorf("key with ID %s not usable: %w", kid, err)
	}

	fmt.Fprintf(out, "To set active key, update config.yaml:\n\n")
	fmt.Fprintf(out, "  auth:\n")
	fmt.Fprintf(out, "    active_kid: %s\n", kid)
	return nil
}
