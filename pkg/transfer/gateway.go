// Package transfer installs credential bundles produced elsewhere into the
// durable session store: pushed over HTTP by a trusted issuer, or promoted
// from a pairing scratch directory by an operator.
package transfer

import (
	"log/slog"
	"strings"

	"pairbot/pkg/fault"
	"pairbot/pkg/logger"
	"pairbot/pkg/session"
)

// Bundle is a bundle pushed by an issuer.
type Bundle struct {
	ID        string
	Artifacts session.Bundle
}

// Status reports whether the bot has credentials to connect with.
type Status struct {
	BotReady bool
}

type Gateway struct {
	store       *session.Store
	scratchRoot string
	log         *slog.Logger
}

func New(store *session.Store, scratchRoot string, log *slog.Logger) *Gateway {
	return &Gateway{
		store:       store,
		scratchRoot: scratchRoot,
		log:         logger.OrDefault(log, "transfer"),
	}
}

// Install writes every artifact of b. Each artifact file is replaced
// atomically; the bundle as a whole is not.
func (g *Gateway) Install(b Bundle) error {
	id := strings.TrimSpace(b.ID)
	if id == "" || len(b.Artifacts) == 0 {
		return fault.Validationf("Session data and ID are required")
	}

	if err := g.store.Update(b.Artifacts); err != nil {
		g.log.Error("Failed to install session", "session_id", id, "error", err)
		return err
	}

	g.log.Info("Session received and saved", "session_id", id, "artifacts", len(b.Artifacts))
	return nil
}

// Clear deletes the durable bundle, leaving an empty directory.
func (g *Gateway) Clear() error {
	if err := g.store.Clear(); err != nil {
		g.log.Error("Failed to clear session", "error", err)
		return err
	}

	g.log.Info("Session cleared")
	return nil
}

func (g *Gateway) Health() Status {
	return Status{BotReady: g.store.HasBundle()}
}

// Transfer promotes the scratch bundle id into the durable store and deletes
// the scratch directory.
func (g *Gateway) Transfer(id string) (session.Bundle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fault.Validationf("session id is required")
	}

	scratch, err := session.ExistingScratch(g.scratchRoot, id)
	if err != nil {
		return nil, err
	}

	bundle, err := g.store.Promote(scratch)
	if err != nil {
		return nil, err
	}

	if err := scratch.Remove(); err != nil {
		g.log.Warn("Transferred session but failed to remove scratch", "session_id", id, "error", err)
	}

	g.log.Info("Session transferred", "session_id", id, "artifacts", len(bundle), "dir", g.store.Dir())
	return bundle, nil
}
