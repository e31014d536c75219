// Command deltad bootstraps one local delta identity: opens its operation
// store and read model, starts the projector, and blocks until interrupted.
// No pkarr publisher is configured, so the pkarr republish loop is not
// started. The actual transport (gossip, pkarr DHT) is out
// of scope for this module, so this binary only proves the local core comes
// up cleanly — it is not a usable chat client on its own.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/joindelta/delta/internal/bootstrap"
	"github.com/joindelta/delta/internal/keys"
)

func main() {
	dbDir := flag.String("db-dir", "./delta-data", "directory holding the operation store and read model")
	privateKeyHex := flag.String("private-key", "", "hex-encoded ed25519 private key seed; a fresh identity is generated if empty")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.JSONFormatter{})

	keyHex := *privateKeyHex
	if keyHex == "" {
		words, kp, err := keys.Generate()
		if err != nil {
			log.WithError(err).Fatal("failed to generate identity")
		}
		keyHex = kp.PrivateHex()
		log.WithField("public_key", kp.PublicHex()).Info("generated a fresh identity; recovery words below")
		log.Info(words)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := bootstrap.Open(ctx, bootstrap.Config{
		BaseDir:       *dbDir,
		PrivateKeyHex: keyHex,
		Log:           log,
	})
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.WithError(err).Error("error closing handle")
		}
	}()

	log.WithField("public_key", handle.Identity.PublicHex()).Info("delta core running")
	<-ctx.Done()
	log.Info("shutting down")
}
