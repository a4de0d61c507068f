package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"

	"github.com/carizon/boardprov/internal/securedebug"
	"github.com/carizon/boardprov/internal/serialio"
)

// runMCUUtil drives the secure-debug unlock handshake against the MCU's
// serial port, pushing the given certificate and proving possession of its
// matching private key over the nonce/signature exchange.
func runMCUUtil(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcu_util", flag.ExitOnError)
	unlock := fs.Bool("u", false, "run the secure-debug unlock handshake")
	keyFile := fs.String("key-file", "", "PEM-encoded ECDSA P-256 private key")
	certFile := fs.String("cert-file", "", "PEM-encoded X.509 certificate")
	level := fs.String("l", "info", "log level")
	configDir := fs.String("C", "", "config manifest directory")
	fs.Parse(args)

	log, err := newLogger(*level)
	if err != nil {
		return err
	}

	if !*unlock {
		return fmt.Errorf("mcu_util: nothing to do (pass -u to run the unlock handshake)")
	}
	if *keyFile == "" || *certFile == "" {
		return fmt.Errorf("mcu_util: --key-file and --cert-file are required")
	}

	manifest, err := loadConfig(*configDir)
	if err != nil {
		return err
	}

	key, err := loadECDSAKey(*keyFile)
	if err != nil {
		return err
	}

	certPEM, err := os.ReadFile(*certFile)
	if err != nil {
		return fmt.Errorf("mcu_util: read cert file: %w", err)
	}
	der, err := securedebug.LoadCertificatePEM(certPEM)
	if err != nil {
		return err
	}

	mcu, err := serialio.Open(manifest.Connect.MCU.Device, manifest.Connect.MCU.Baud)
	if err != nil {
		return err
	}
	defer mcu.Close()

	session := securedebug.NewSession(mcu)
	ok, err := session.Unlock(der, key)
	if err != nil {
		return fmt.Errorf("mcu_util: unlock: %w", err)
	}
	if !ok {
		return fmt.Errorf("mcu_util: MCU did not confirm signature verification")
	}

	log.Info("mcu secure-debug unlock confirmed")
	return nil
}

func loadECDSAKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcu_util: read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("mcu_util: no PEM block in %s", path)
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("mcu_util: parse private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("mcu_util: key in %s is not an ECDSA key", path)
	}
	return ecKey, nil
}
