// Command meshcop-tool works with commissioning key material, signed
// envelopes, joiner policies and commissioner tokens.
//
// Usage:
//
//	meshcop-tool keygen --curve P-256 --out signer.key --pub signer.pub
//	meshcop-tool sign --key signer.key --in petition.cbor --out petition.cose
//	meshcop-tool verify --key signer.pub --in petition.cose
//	meshcop-tool joiner-id --eui64 00:11:22:33:44:55:66:77
//	meshcop-tool check-policy --policy joiners.yaml --strict
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mash-protocol/meshcop-go/pkg/log"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "meshcop-tool",
		Usage: "Commissioning key, envelope, joiner and token utility",
		Description: `Tools for the commissioning security core.

- Generate EC keys and encode them as COSE_Key
- Sign and verify COSE_Sign1 envelopes
- Derive Joiner IDs and check joiner policies
- Issue and verify commissioner tokens`,
		Version: "0.1.0",
		Writer:  out,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write security events as JSON via zap",
			},
			&cli.StringFlag{
				Name:  "audit-log",
				Usage: "Append security events to this CBOR audit file",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log successful operations as well as failures",
			},
		},
		Commands: []*cli.Command{
			keygenCommand(),
			coseKeyCommand(),
			signCommand(),
			verifyCommand(),
			joinerIDCommand(),
			checkPolicyCommand(),
			issueTokenCommand(),
			verifyTokenCommand(),
			auditCommand(),
		},
	}
}

// newLogger builds the security event sink selected by the global flags.
// The returned function flushes and closes it.
func newLogger(c *cli.Context) (log.Logger, func(), error) {
	sink, done, err := newConsoleLogger(c)
	if err != nil {
		return nil, nil, err
	}

	path := c.String("audit-log")
	if path == "" {
		return sink, done, nil
	}
	audit, err := log.NewFileLogger(path)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return log.NewMultiLogger(sink, audit), func() {
		if err := audit.Close(); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: closing audit log: %v\n", err)
		}
		if n, err := audit.Dropped(); n > 0 {
			fmt.Fprintf(c.App.ErrWriter, "Warning: %d audit records dropped: %v\n", n, err)
		}
		done()
	}, nil
}

func newConsoleLogger(c *cli.Context) (log.Logger, func(), error) {
	if c.Bool("log-json") {
		cfg := zap.NewProductionConfig()
		if c.Bool("verbose") {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		zl, err := cfg.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create logger: %w", err)
		}
		return log.NewZapAdapter(zl), func() { _ = zl.Sync() }, nil
	}

	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level})
	return log.NewSlogAdapter(slog.New(handler)), func() {}, nil
}
