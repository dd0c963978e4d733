package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/terracebot/terrace/internal/logging"
)

// ErrNoProfileID is returned when the service accepts a creation request
// but reports no id. This is fatal for the launch attempt.
var ErrNoProfileID = errors.New("provisioning service returned no profile id")

// Provisioner resolves a durable remote profile id for a logical profile:
// reuse the recorded id when it still validates, otherwise create a fresh
// fingerprinted profile.
type Provisioner struct {
	svc Service
	log *slog.Logger
}

// NewProvisioner creates a provisioner over a provisioning service.
func NewProvisioner(svc Service) *Provisioner {
	return &Provisioner{svc: svc, log: logging.Component("provision")}
}

// Resolve returns the remote profile id to launch with. created reports
// whether a new remote profile was made; the caller must persist the id
// before first navigation so later reuse and deletion stay consistent.
func (p *Provisioner) Resolve(ctx context.Context, profileID, recordedID, proxy string) (remoteID string, created bool, err error) {
	if wellFormedID(recordedID) {
		// Validation errors mean "assume invalid, recreate". An
		// inconclusive check must never fail the whole launch.
		if err := p.svc.ValidateProfile(ctx, recordedID); err == nil {
			p.log.Debug("reusing remote profile", "profile", profileID, "remote_id", recordedID)
			return recordedID, false, nil
		} else {
			p.log.Warn("recorded remote profile failed validation, recreating",
				"profile", profileID, "remote_id", recordedID, "error", err)
		}
	}

	opts, err := NewFingerprint(profileID, proxy)
	if err != nil {
		return "", false, err
	}

	id, err := p.svc.CreateProfile(ctx, opts)
	if err != nil {
		return "", false, fmt.Errorf("profile %s: %w", profileID, err)
	}
	if id == "" {
		return "", false, fmt.Errorf("profile %s: %w", profileID, ErrNoProfileID)
	}

	p.log.Info("created remote profile", "profile", profileID, "remote_id", id, "os", opts.OS)
	return id, true, nil
}

// wellFormedID is the cheap shape check for recorded remote profile ids.
// The service issues 24-char lowercase hex ids.
func wellFormedID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
