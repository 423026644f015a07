// Command oracle-cli is the operator and claimant toolbox: it seals proofs,
// prints identity commitments and mints intake tokens.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drewstone/edgeware-watcher/internal/attestation/cipher"
	"github.com/drewstone/edgeware-watcher/internal/attestation/hasher"
	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/attestation/verifier"
	jwttoken "github.com/drewstone/edgeware-watcher/internal/jwt_token"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const usage = `usage: oracle-cli <command> [flags]

commands:
  seal   encrypt a proof for a claimant and print it with its identity hash
  hash   print the identity commitment for an identity
  token  mint an intake bearer token
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "oracle-cli: %v\n", err)
		}
		os.Exit(2)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	switch args[0] {
	case "seal":
		return runSeal(args[1:], stdout, stderr)
	case "hash":
		return runHash(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return errUsage
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

type sealOutput struct {
	IdentityHash id.Hash `json:"identityHash"`
	Proof        string  `json:"proof"`
}

func runSeal(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("seal", stderr)
	identity := fs.String("identity", "", "identity (github login) being claimed")
	sender := fs.String("sender", "", "account that registers the claim")
	identityType := fs.String("type", verifier.DefaultIdentityType, "identity type")
	key := fs.String("key", os.Getenv("ORACLE_SHARED_KEY"), "shared key (default $ORACLE_SHARED_KEY)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *identity == "" || *sender == "" || *key == "" {
		return fmt.Errorf("seal: -identity, -sender and -key are required")
	}
	account, err := id.ParseAccountID(*sender)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}

	hash := hasher.Hash(*identityType, *identity)
	plain, err := json.Marshal(models.DecryptedProof{
		IdentityType: *identityType,
		Identity:     *identity,
		Sender:       account,
		IdentityHash: hash.String(),
	})
	if err != nil {
		return fmt.Errorf("seal: encode proof: %w", err)
	}
	sealed, err := cipher.Encrypt(plain, *key)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sealOutput{IdentityHash: hash, Proof: sealed})
}

func runHash(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("hash", stderr)
	identityType := fs.String("type", verifier.DefaultIdentityType, "identity type")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("hash: exactly one identity is required")
	}
	_, err := fmt.Fprintln(stdout, hasher.Hash(*identityType, fs.Arg(0)).String())
	return err
}

func runToken(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("token", stderr)
	subject := fs.String("subject", "", "caller the token is issued to")
	key := fs.String("key", os.Getenv("JWT_SIGNING_KEY"), "signing key (default $JWT_SIGNING_KEY)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *key == "" {
		return fmt.Errorf("token: -key is required")
	}
	token, err := jwttoken.NewJWTService(*key, jwttoken.DefaultIssuer, jwttoken.DefaultAudience).
		GenerateIntakeToken(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
