package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipico/checklist-bff/internal/admin"
	"github.com/sipico/checklist-bff/internal/capability"
	"github.com/sipico/checklist-bff/internal/config"
)

const driveFilePrefix = "/drive-file/"

// brokerFromConfig builds a broker from the signing settings only, so the
// tools work without storage or provider credentials.
func brokerFromConfig(path string) (*capability.Broker, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.SigningSecret == "" {
		return nil, errors.New("SIGNING_SECRET is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	return capability.NewBroker(cfg.SigningSecret, cfg.PublicBaseURL, capability.WithTTL(cfg.SignedURLTTL)), nil
}

func signURLCmd(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sign-url <file-id>",
		Short: "Print a signed download URL for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			broker, err := brokerFromConfig(*configPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = broker.TTL()
			}
			c, err := broker.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), broker.URL(c))
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", c.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime (defaults to SIGNED_URL_TTL)")
	return cmd
}

func verifyURLCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-url <signed-url>",
		Short: "Check whether a signed download URL is currently valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			broker, err := brokerFromConfig(*configPath)
			if err != nil {
				return err
			}
			fileID, token, err := parseSignedURL(args[0])
			if err != nil {
				return err
			}
			if !broker.Verify(fileID, token) {
				return fmt.Errorf("signed URL for %q is invalid or expired", fileID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid: %s\n", fileID)
			if exp, ok := tokenExpiry(token); ok {
				fmt.Fprintf(out, "expires at %s\n", exp.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

// parseSignedURL extracts the file id and token from a /drive-file URL.
func parseSignedURL(raw string) (fileID, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	escaped, ok := strings.CutPrefix(u.EscapedPath(), driveFilePrefix)
	if !ok || escaped == "" {
		return "", "", fmt.Errorf("URL path must start with %s", driveFilePrefix)
	}
	fileID, err = url.PathUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("invalid file id: %w", err)
	}
	token = u.Query().Get("t")
	if token == "" {
		return "", "", errors.New("URL has no t parameter")
	}
	return fileID, token, nil
}

func tokenExpiry(token string) (time.Time, bool) {
	exp, _, ok := strings.Cut(token, ".")
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func hashOpsKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-ops-key [key]",
		Short: "Print the bcrypt hash to put in OPS_API_KEY_HASH",
		Long:  "Hashes the given ops API key. With no argument the key is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no key given on the command line or stdin")
				}
				key = strings.TrimRight(line, "\r\n")
			}
			hash, err := admin.HashKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
