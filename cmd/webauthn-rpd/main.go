//
// Copyright 2021-2026 the Authors
//
// This file is part of this program.
//
// This program is free software: you can redistribute it and/or modify it under the
// terms of the GNU General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later
// version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
// A PARTICULAR PURPOSE. See the GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along with
// this program. If not, see <https://www.gnu.org/licenses/>.

// The webauthn-rpd binary is a reference relying-party daemon that exposes
// WebAuthn registration and login ceremonies over HTTP, persisting devices
// with encryption at rest.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mdp/qrterminal"
	"github.com/pquerna/otp/totp"
	"github.com/urfave/cli/v2"

	webauthnrp "webauthnrp"
	"webauthnrp/internal/crypto"
	"webauthnrp/internal/log"
	"webauthnrp/internal/rpserver"
	"webauthnrp/internal/store"
)

var (
	flagDatabase              string
	flagAddress               string
	flagPathPrefix            string
	flagRPName                string
	flagRPOrigin              string
	flagRPID                  string
	flagTLSCert               string
	flagTLSKey                string
	flagLogLevel              int
	flagPassphraseFile        string
	flagPassphraseCmd         string
	flagPassphrase            string
	flagHTDigestFile          string
	flagMaxConcurrentRequests int
	flagPrintOTPQR            string
)

func main() {
	var defaultDB string
	if home, err := os.UserHomeDir(); err == nil {
		defaultDB = filepath.Join(home, "webauthn-rpd", "data")
	}
	app := &cli.App{
		Name:      "webauthn-rpd",
		Usage:     "Run the WebAuthn relying-party daemon",
		HideHelp:  true,
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "database",
				Aliases:     []string{"db"},
				Value:       defaultDB,
				Usage:       "Persist device records under `DIR`",
				EnvVars:     []string{"WEBAUTHN_RPD_DATABASE"},
				Destination: &flagDatabase,
			},
			&cli.StringFlag{
				Name:        "address",
				Aliases:     []string{"addr"},
				Value:       "127.0.0.1:8443",
				Usage:       "The local address to use.",
				Destination: &flagAddress,
			},
			&cli.StringFlag{
				Name:        "path-prefix",
				Value:       "",
				Usage:       "The ceremony endpoints are served at <path-prefix>/register/..., <path-prefix>/login/...",
				Destination: &flagPathPrefix,
			},
			&cli.StringFlag{
				Name:        "rp-name",
				Value:       "WebAuthn Example RP",
				Usage:       "The relying party's human-readable name.",
				Destination: &flagRPName,
			},
			&cli.StringFlag{
				Name:        "rp-origin",
				Usage:       "The relying party's origin, e.g. https://example.com. Required.",
				Destination: &flagRPOrigin,
			},
			&cli.StringFlag{
				Name:        "rp-id",
				Value:       "",
				Usage:       "The relying party ID. If empty, derived from --rp-origin.",
				Destination: &flagRPID,
			},
			&cli.StringFlag{
				Name:        "tlscert",
				Value:       "",
				Usage:       "The name of the `FILE` containing the TLS cert to use.",
				TakesFile:   true,
				Destination: &flagTLSCert,
			},
			&cli.StringFlag{
				Name:        "tlskey",
				Value:       "",
				Usage:       "The name of the `FILE` containing the TLS private key to use.",
				Destination: &flagTLSKey,
			},
			&cli.IntFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Value:       2,
				DefaultText: "2 (info)",
				Usage:       "The level of logging verbosity: 1:Error 2:Info 3:Debug",
				Destination: &flagLogLevel,
			},
			&cli.StringFlag{
				Name:        "passphrase-command",
				Value:       "",
				Usage:       "Read the database passphrase from the standard output of `COMMAND`.",
				EnvVars:     []string{"WEBAUTHN_RPD_PASSPHRASE_CMD"},
				Destination: &flagPassphraseCmd,
			},
			&cli.StringFlag{
				Name:        "passphrase-file",
				Value:       "",
				Usage:       "Read the database passphrase from `FILE`.",
				EnvVars:     []string{"WEBAUTHN_RPD_PASSPHRASE_FILE"},
				Destination: &flagPassphraseFile,
			},
			&cli.StringFlag{
				Name:        "passphrase",
				Value:       "",
				Usage:       "Use value as database passphrase.",
				EnvVars:     []string{"WEBAUTHN_RPD_PASSPHRASE"},
				Destination: &flagPassphrase,
			},
			&cli.StringFlag{
				Name:        "htdigest-file",
				Value:       "",
				Usage:       "The name of the htdigest `FILE` to use for basic auth on /metrics.",
				EnvVars:     []string{"WEBAUTHN_RPD_HTDIGEST_FILE"},
				Destination: &flagHTDigestFile,
			},
			&cli.IntFlag{
				Name:        "max-concurrent-requests",
				Value:       50,
				Usage:       "The maximum number of concurrent requests.",
				Destination: &flagMaxConcurrentRequests,
			},
			&cli.StringFlag{
				Name:        "print-otp-qr",
				Value:       "",
				Usage:       "Debug flag: generate a TOTP secret for account `NAME` and render its provisioning QR code to the terminal, then exit.",
				Destination: &flagPrintOTPQR,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	log.Level = flagLogLevel

	if flagPrintOTPQR != "" {
		return printOTPQR(flagPrintOTPQR)
	}
	if c.Args().Len() > 0 {
		cli.ShowSubcommandHelp(c)
		return nil
	}
	if flagRPOrigin == "" {
		log.Fatal("--rp-origin is required.")
	}
	if (flagTLSCert == "") != (flagTLSKey == "") {
		log.Fatal("--tlscert and --tlskey must either both be set or unset.")
	}

	pp, err := crypto.Passphrase(flagPassphraseCmd, flagPassphraseFile, flagPassphrase)
	if err != nil {
		return err
	}
	mkFile := filepath.Join(flagDatabase, "master.key")
	if err := os.MkdirAll(flagDatabase, 0700); err != nil {
		return err
	}
	masterKey, err := crypto.ReadMasterKey(pp, mkFile)
	if os.IsNotExist(err) {
		if masterKey, err = crypto.CreateMasterKey(); err != nil {
			log.Fatalf("Failed to create master key: %v", err)
		}
		err = masterKey.Save(pp, mkFile)
	}
	if err != nil {
		log.Fatalf("Failed to decrypt master key: %v", err)
	}

	rp, err := webauthnrp.NewRelyingParty(flagRPName, flagRPOrigin, flagRPID)
	if err != nil {
		log.Fatalf("NewRelyingParty: %v", err)
	}

	devices := store.New(flagDatabase, masterKey)
	srv := rpserver.New(rpserver.Config{
		RelyingParty: rp,
		Devices:      devices,
		Addr:         flagAddress,
		PathPrefix:   strings.TrimSuffix(flagPathPrefix, "/"),
		HTDigestFile: flagHTDigestFile,
	})
	srv.MaxConcurrentRequests = flagMaxConcurrentRequests

	done := make(chan struct{})
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Infof("Received signal %v", sig)
		if err := srv.Shutdown(c.Context); err != nil {
			log.Errorf("srv.Shutdown: %v", err)
		}
		close(done)
	}()

	var runErr error
	if flagTLSCert == "" {
		log.Infof("Starting relying-party daemon WITHOUT TLS on %s", flagAddress)
		runErr = srv.Run()
	} else {
		log.Infof("Starting relying-party daemon with TLS on %s", flagAddress)
		runErr = srv.RunWithTLS(flagTLSCert, flagTLSKey)
	}
	if runErr != nil && runErr != http.ErrServerClosed {
		log.Fatalf("srv.Run: %v", runErr)
	}
	<-done
	log.Info("Server exited cleanly.")
	return nil
}

// printOTPQR is a debug helper: it generates a fresh TOTP secret and renders
// its provisioning URI as a QR code directly in the terminal, the same way
// the teacher's inspect tool displays a user's existing OTP secret.
func printOTPQR(account string) error {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "webauthn-rpd",
		AccountName: account,
	})
	if err != nil {
		return err
	}
	var buf strings.Builder
	qrterminal.GenerateHalfBlock(key.URL(), qrterminal.L, &buf)
	log.Infof("TOTP secret for %q: %s", account, key.Secret())
	os.Stdout.WriteString(buf.String())
	return nil
}
