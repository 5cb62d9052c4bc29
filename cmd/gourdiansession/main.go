// Command gourdiansession inspects session tokens from the command line.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gourdian25/gourdiansession"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version is set at build time
var Version = "0.1.0"

var (
	okFmt   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

type options struct {
	output     string
	salt       string
	failClosed bool
}

// verifyResult is what `verify` prints. Payload values are never included.
type verifyResult struct {
	Valid        bool     `json:"valid" yaml:"valid"`
	Outcome      string   `json:"outcome" yaml:"outcome"`
	Stage        string   `json:"stage" yaml:"stage"`
	Identifier   string   `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Profile      string   `json:"profile,omitempty" yaml:"profile,omitempty"`
	UsedFallback bool     `json:"used_fallback" yaml:"used_fallback"`
	PayloadKeys  []string `json:"payload_keys,omitempty" yaml:"payload_keys,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "gourdiansession",
		Short: "Verify and inspect encrypted session tokens",
		Long: `gourdiansession verifies session tokens issued by the identity provider
and prints key fingerprints for the configured secret.

The shared secret is read from AUTH_SECRET. Other AUTH_* variables
select the derivation scheme and verification policy.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text, json, yaml")

	verify := &cobra.Command{
		Use:   "verify <token|->",
		Short: "Verify a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts, args[0])
		},
	}
	verify.Flags().StringVar(&opts.salt, "salt", "", "Salt (cookie name) for the authjs scheme")
	verify.Flags().BoolVar(&opts.failClosed, "fail-closed", false, "Reject sessions with an unparsable expires claim")

	fingerprint := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print fingerprints of the secret and derived keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFingerprint(cmd, opts)
		},
	}

	root.AddCommand(verify, fingerprint)
	return root
}

func readToken(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runVerify(cmd *cobra.Command, opts *options, arg string) error {
	token, err := readToken(cmd, arg)
	if err != nil {
		return err
	}

	config, err := gourdiansession.LoadGourdianSessionConfigFromEnv()
	if err != nil {
		return err
	}
	if opts.failClosed {
		config.ExpiryFailClosed = true
	}

	verifier, err := gourdiansession.NewGourdianSessionVerifier(cmd.Context(), config, nil)
	if err != nil {
		return err
	}

	var verifyOpts []gourdiansession.VerifyOption
	if opts.salt != "" {
		verifyOpts = append(verifyOpts, gourdiansession.WithSalt(opts.salt))
	}

	session, verr := verifier.VerifySession(cmd.Context(), token, verifyOpts...)
	result := describe(session, verr)
	if err := printResult(cmd.OutOrStdout(), opts.output, result); err != nil {
		return err
	}
	if verr != nil {
		return errors.New(gourdiansession.PublicMessage)
	}
	return nil
}

func describe(session *gourdiansession.VerifiedSession, err error) verifyResult {
	if err != nil {
		stage, _ := gourdiansession.RejectedStage(err)
		return verifyResult{Outcome: outcome(err), Stage: string(stage)}
	}

	result := verifyResult{
		Valid:        true,
		Outcome:      "accepted",
		Stage:        string(gourdiansession.StageAccepted),
		Identifier:   session.Identifier,
		Profile:      string(session.Profile),
		UsedFallback: session.UsedFallback,
		PayloadKeys:  session.Claims.Keys(),
	}
	if !session.ExpiresAt.IsZero() {
		result.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return result
}

func outcome(err error) string {
	switch {
	case errors.Is(err, gourdiansession.ErrFormat):
		return "format"
	case errors.Is(err, gourdiansession.ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, gourdiansession.ErrSessionExpired):
		return "expired"
	case errors.Is(err, gourdiansession.ErrMissingIdentity):
		return "missing_identity"
	default:
		return "invalid"
	}
}

func printResult(w io.Writer, format string, result verifyResult) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	}

	if !result.Valid {
		fmt.Fprintf(w, "%s  stage=%s outcome=%s\n", failFmt("INVALID"), result.Stage, result.Outcome)
		return nil
	}
	fmt.Fprintf(w, "%s  %s\n", okFmt("VALID"), result.Identifier)
	fmt.Fprintf(w, "  profile:   %s\n", result.Profile)
	if result.ExpiresAt != "" {
		fmt.Fprintf(w, "  expires:   %s\n", result.ExpiresAt)
	}
	if result.UsedFallback {
		fmt.Fprintf(w, "  %s\n", dimFmt("decrypted with fallback keys"))
	}
	fmt.Fprintf(w, "  payload:   %s\n", strings.Join(result.PayloadKeys, ", "))
	return nil
}

func runFingerprint(cmd *cobra.Command, opts *options) error {
	config, err := gourdiansession.LoadGourdianSessionConfigFromEnv()
	if err != nil {
		return err
	}
	verifier, err := gourdiansession.NewGourdianSessionVerifier(cmd.Context(), config, nil)
	if err != nil {
		return err
	}

	prints := verifier.Fingerprints()
	w := cmd.OutOrStdout()
	switch opts.output {
	case "json":
		return outputJSON(w, prints)
	case "yaml":
		return outputYAML(w, prints)
	}

	names := make([]string, 0, len(prints))
	for name := range prints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%-48s %s\n", name, prints[name])
	}
	return nil
}

func outputJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
