package main

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	gocose "github.com/veraison/go-cose"

	"github.com/mash-protocol/meshcop-go/pkg/cose"
	"github.com/mash-protocol/meshcop-go/pkg/joiner"
	"github.com/mash-protocol/meshcop-go/pkg/keys"
	"github.com/mash-protocol/meshcop-go/pkg/log"
	"github.com/mash-protocol/meshcop-go/pkg/token"
)

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate an EC private key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "curve", Usage: "P-256, P-384 or P-521", Value: "P-256"},
			&cli.StringFlag{Name: "out", Usage: "Private key PEM file", Required: true},
			&cli.StringFlag{Name: "pub", Usage: "Also write the public key PEM to this file"},
		},
		Action: func(c *cli.Context) error {
			curve, err := keys.ParseCurve(c.String("curve"))
			if err != nil {
				return err
			}
			key, err := keys.Generate(curve)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			if err := keys.WriteKeyFile(c.String("out"), key); err != nil {
				return fmt.Errorf("failed to write key: %w", err)
			}
			if pub := c.String("pub"); pub != "" {
				if err := keys.WritePublicKeyFile(pub, &key.PublicKey); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}
			}
			fmt.Fprintf(c.App.Writer, "Generated %s key: %s\n", curve, c.String("out"))
			return nil
		},
	}
}

func coseKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "cose-key",
		Usage: "Encode a public key as COSE_Key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Usage: "Public or private key PEM file", Required: true},
			&cli.StringFlag{Name: "kid", Usage: "Key ID (hex)"},
			&cli.BoolFlag{Name: "random-kid", Usage: "Use a random UUID as key ID"},
			&cli.StringFlag{Name: "out", Usage: "Output file (default: hex to stdout)"},
		},
		Action: func(c *cli.Context) error {
			pub, err := keys.ReadPublicKeyFile(c.String("key"))
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			kid, err := keyIDFlag(c)
			if err != nil {
				return err
			}
			data, err := cose.EncodeKey(pub, kid)
			if err != nil {
				return err
			}
			return writeOutput(c, data)
		},
	}
}

func signCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Sign a payload into a COSE_Sign1 envelope",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Usage: "Private key PEM file", Required: true},
			&cli.StringFlag{Name: "in", Usage: "Payload file", Required: true},
			&cli.StringFlag{Name: "external", Usage: "External data (hex)"},
			&cli.StringFlag{Name: "kid", Usage: "Key ID (hex)"},
			&cli.BoolFlag{Name: "random-kid", Usage: "Use a random UUID as key ID"},
			&cli.BoolFlag{Name: "detached", Usage: "Do not transmit the payload"},
			&cli.BoolFlag{Name: "untagged", Usage: "Omit the COSE_Sign1 tag"},
			&cli.StringFlag{Name: "out", Usage: "Output file (default: hex to stdout)"},
		},
		Action: func(c *cli.Context) error {
			logger, done, err := newLogger(c)
			if err != nil {
				return err
			}
			defer done()

			key, err := keys.ReadKeyFile(c.String("key"))
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			payload, err := os.ReadFile(c.String("in"))
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			kid, err := keyIDFlag(c)
			if err != nil {
				return err
			}
			external, err := hexFlag(c, "external")
			if err != nil {
				return err
			}

			opts := []cose.Option{cose.WithLogger(logger)}
			if c.Bool("untagged") {
				opts = append(opts, cose.WithoutTag())
			}
			msg := cose.NewSign1Message(opts...)
			defer msg.Free()

			if err := msg.SetPayload(payload); err != nil {
				return err
			}
			if len(kid) > 0 {
				if err := msg.AddBytesAttribute(gocose.HeaderLabelKeyID, kid, cose.Unprotected); err != nil {
					return err
				}
			}
			if len(external) > 0 {
				if err := msg.SetExternalData(external); err != nil {
					return err
				}
			}
			if err := msg.Sign(key); err != nil {
				return err
			}
			if c.Bool("detached") {
				if err := msg.DetachPayload(); err != nil {
					return err
				}
			}
			data, err := msg.Serialize()
			if err != nil {
				return err
			}
			return writeOutput(c, data)
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify a COSE_Sign1 envelope",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Usage: "Public key PEM file"},
			&cli.StringFlag{Name: "cose-key", Usage: "COSE_Key file"},
			&cli.StringFlag{Name: "in", Usage: "Envelope file", Required: true},
			&cli.StringFlag{Name: "external", Usage: "External data (hex)"},
			&cli.StringFlag{Name: "payload", Usage: "Detached payload file"},
			&cli.StringFlag{Name: "out", Usage: "Write the verified payload to this file"},
		},
		Action: func(c *cli.Context) error {
			logger, done, err := newLogger(c)
			if err != nil {
				return err
			}
			defer done()

			data, err := readInput(c.String("in"))
			if err != nil {
				return err
			}
			external, err := hexFlag(c, "external")
			if err != nil {
				return err
			}

			msg, err := cose.Deserialize(data, cose.WithLogger(logger))
			if err != nil {
				return err
			}
			defer msg.Free()

			if path := c.String("payload"); path != "" {
				payload, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				if err := msg.SetPayload(payload); err != nil {
					return err
				}
			}
			if len(external) > 0 {
				if err := msg.SetExternalData(external); err != nil {
					return err
				}
			}

			switch {
			case c.String("cose-key") != "":
				coseKey, err := readInput(c.String("cose-key"))
				if err != nil {
					return err
				}
				err = msg.ValidateEncodedKey(coseKey)
				if err != nil {
					return err
				}
			case c.String("key") != "":
				pub, err := keys.ReadPublicKeyFile(c.String("key"))
				if err != nil {
					return fmt.Errorf("failed to read key: %w", err)
				}
				if err := msg.Validate(pub); err != nil {
					return err
				}
			default:
				return fmt.Errorf("one of --key or --cose-key is required")
			}

			payload, _ := msg.Payload()
			if out := c.String("out"); out != "" {
				if err := os.WriteFile(out, payload, 0644); err != nil {
					return fmt.Errorf("failed to write payload: %w", err)
				}
			}
			fmt.Fprintf(c.App.Writer, "Signature valid, payload %d bytes\n", len(payload))
			if kid, ok := msg.KeyID(); ok {
				fmt.Fprintf(c.App.Writer, "Key ID: %x\n", kid)
			}
			return nil
		},
	}
}

func joinerIDCommand() *cli.Command {
	return &cli.Command{
		Name:  "joiner-id",
		Usage: "Compute a Joiner ID from an EUI-64 or a discerner",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "eui64", Usage: "Joiner EUI-64 (hex)"},
			&cli.Uint64Flag{Name: "discerner", Usage: "Discerner value"},
			&cli.UintFlag{Name: "bits", Usage: "Discerner bit length"},
		},
		Action: func(c *cli.Context) error {
			if s := c.String("eui64"); s != "" {
				eui64, err := joiner.ParseEui64(s)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, joiner.ComputeJoinerID(eui64))
				return nil
			}
			if !c.IsSet("bits") {
				return fmt.Errorf("one of --eui64 or --discerner/--bits is required")
			}
			d := joiner.Discerner{Value: c.Uint64("discerner"), BitLength: uint8(min(c.Uint("bits"), 255))}
			if !d.Valid() {
				return fmt.Errorf("%w: %s", joiner.ErrInvalidDiscerner, d)
			}
			fmt.Fprintln(c.App.Writer, joiner.ComputeJoinerIDFromDiscerner(d))
			return nil
		},
	}
}

func checkPolicyCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-policy",
		Usage: "Validate a joiner policy file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "policy", Usage: "Policy YAML file", Required: true},
			&cli.BoolFlag{Name: "strict", Usage: "Enforce the PSKd format"},
			&cli.StringFlag{Name: "lookup", Usage: "Resolve this EUI-64 against the policy"},
		},
		Action: func(c *cli.Context) error {
			logger, done, err := newLogger(c)
			if err != nil {
				return err
			}
			defer done()

			opts := []joiner.PolicyOption{joiner.WithPolicyLogger(logger)}
			if c.Bool("strict") {
				opts = append(opts, joiner.WithStrictPSKd())
			}
			p, err := joiner.LoadPolicy(c.String("policy"), opts...)
			if err != nil {
				return err
			}

			for _, info := range p.Joiners() {
				fmt.Fprintf(c.App.Writer, "%-10s %s\n", info.Type, info.Label())
			}
			fmt.Fprintf(c.App.Writer, "%d joiners\n", p.Len())

			if s := c.String("lookup"); s != "" {
				eui64, err := joiner.ParseEui64(s)
				if err != nil {
					return err
				}
				info, ok := p.LookupEui64(eui64)
				if !ok {
					return fmt.Errorf("joiner %s not permitted", joiner.ComputeJoinerID(eui64))
				}
				fmt.Fprintf(c.App.Writer, "%s admitted by %s\n", joiner.ComputeJoinerID(eui64), info.Label())
			}
			return nil
		},
	}
}

func issueTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue-token",
		Usage: "Issue a commissioner token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Usage: "Issuer private key PEM file", Required: true},
			&cli.StringFlag{Name: "proof", Usage: "Commissioner public key PEM file"},
			&cli.StringFlag{Name: "issuer", Usage: "Issuer name"},
			&cli.StringFlag{Name: "subject", Usage: "Commissioner identity"},
			&cli.StringFlag{Name: "audience", Usage: "Intended verifier"},
			&cli.DurationFlag{Name: "lifetime", Usage: "Token lifetime", Value: token.DefaultLifetime},
			&cli.StringFlag{Name: "kid", Usage: "Key ID (hex)"},
			&cli.BoolFlag{Name: "random-kid", Usage: "Use a random UUID as key ID"},
			&cli.StringFlag{Name: "out", Usage: "Output file (default: hex to stdout)"},
		},
		Action: func(c *cli.Context) error {
			logger, done, err := newLogger(c)
			if err != nil {
				return err
			}
			defer done()

			key, err := keys.ReadKeyFile(c.String("key"))
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			kid, err := keyIDFlag(c)
			if err != nil {
				return err
			}
			var proof *ecdsa.PublicKey
			if path := c.String("proof"); path != "" {
				if proof, err = keys.ReadPublicKeyFile(path); err != nil {
					return fmt.Errorf("failed to read proof key: %w", err)
				}
			}

			issuer := &token.Issuer{
				Signer:   key,
				KeyID:    kid,
				Name:     c.String("issuer"),
				Lifetime: c.Duration("lifetime"),
				Logger:   logger,
			}
			claims := token.Claims{Subject: c.String("subject"), Audience: c.String("audience")}
			var data []byte
			if proof != nil {
				data, err = issuer.Issue(claims, proof)
			} else {
				data, err = issuer.Issue(claims, nil)
			}
			if err != nil {
				return err
			}
			return writeOutput(c, data)
		},
	}
}

func verifyTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify-token",
		Usage: "Verify a commissioner token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Usage: "Issuer public key PEM file", Required: true},
			&cli.StringFlag{Name: "in", Usage: "Token file", Required: true},
			&cli.StringFlag{Name: "audience", Usage: "Required audience"},
			&cli.DurationFlag{Name: "leeway", Usage: "Tolerated clock skew", Value: time.Minute},
		},
		Action: func(c *cli.Context) error {
			logger, done, err := newLogger(c)
			if err != nil {
				return err
			}
			defer done()

			pub, err := keys.ReadPublicKeyFile(c.String("key"))
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			data, err := readInput(c.String("in"))
			if err != nil {
				return err
			}

			verifier := &token.Verifier{
				Key:      pub,
				Audience: c.String("audience"),
				Leeway:   c.Duration("leeway"),
				Logger:   logger,
			}
			tok, err := verifier.Verify(data)
			if err != nil {
				return err
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Token:    %s\n", tok.ID)
			fmt.Fprintf(w, "Issuer:   %s\n", tok.Issuer)
			fmt.Fprintf(w, "Subject:  %s\n", tok.Subject)
			fmt.Fprintf(w, "Audience: %s\n", tok.Audience)
			fmt.Fprintf(w, "Expires:  %s\n", tok.Expiration.Format(time.RFC3339))
			if tok.ProofKey != nil {
				fmt.Fprintf(w, "Proof key: %s\n", tok.ProofKey.Curve.Params().Name)
			}
			return nil
		},
	}
}

// keyIDFlag returns the --kid value, or a random UUID for --random-kid.
func keyIDFlag(c *cli.Context) ([]byte, error) {
	if c.Bool("random-kid") {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key ID: %w", err)
		}
		return id[:], nil
	}
	return hexFlag(c, "kid")
}

func hexFlag(c *cli.Context, name string) ([]byte, error) {
	s := c.String(name)
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return b, nil
}

// readInput reads a file holding raw bytes or a hex string.
func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if b, err := hex.DecodeString(strings.TrimSpace(string(data))); err == nil && len(b) > 0 {
		return b, nil
	}
	return data, nil
}

// writeOutput writes data to --out, or hex-encoded to stdout.
func writeOutput(c *cli.Context, data []byte) error {
	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		return nil
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(data))
	return nil
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Print events from a CBOR audit file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "Audit file", Required: true},
			&cli.StringFlag{Name: "operation", Usage: "Only events of this operation"},
			&cli.StringFlag{Name: "joiner", Usage: "Only events for this joiner ID"},
			&cli.BoolFlag{Name: "failures", Usage: "Only failed operations"},
		},
		Action: func(c *cli.Context) error {
			filter := log.Filter{
				Operation: c.String("operation"),
				JoinerID:  c.String("joiner"),
			}
			if c.Bool("failures") {
				failure := log.OutcomeFailure
				filter.Outcome = &failure
			}

			r, err := log.NewReader(c.String("file"), filter)
			if err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
			defer r.Close()

			w := c.App.Writer
			for {
				e, err := r.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read audit log: %w", err)
				}
				fmt.Fprintf(w, "%s %-9s %-12s %s", e.Timestamp.Format(time.RFC3339), e.Category, e.Operation, e.Outcome)
				if e.Outcome == log.OutcomeFailure {
					fmt.Fprintf(w, " %s", e.Code)
				}
				if len(e.KeyID) > 0 {
					fmt.Fprintf(w, " kid=%x", e.KeyID)
				}
				if e.JoinerID != "" {
					fmt.Fprintf(w, " joiner=%s", e.JoinerID)
				}
				if e.Detail != "" {
					fmt.Fprintf(w, " %s", e.Detail)
				}
				fmt.Fprintln(w)
			}
		},
	}
}
