package session

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"apex-build/internal/logging"
	"apex-build/internal/profiler"
)

const exportTimeout = 30 * time.Second

// persistProfile saves header's finalized tree to s.store (if configured)
// and, once saved, uploads it through s.exporter (if configured),
// recording the resulting URI back against the stored record. A step whose
// collaborator is nil is skipped silently; a step that fails is logged and
// swallowed:
// a profile a client already retrieved through Profiler.stop's response
// must not become an RPC error just because its durable copy didn't make
// it (SPEC_FULL.md domain stack §2/§4).
func (s *Session) persistProfile(header profiler.ProfileHeader) {
	if s.store == nil {
		return
	}

	full, err := s.profiler.GetProfile(header.UID)
	if err != nil {
		logging.L().Warn("session: failed to load profile for persistence", zap.String("uid", header.UID), zap.Error(err))
		return
	}

	headJSON, err := json.Marshal(full.Head)
	if err != nil {
		logging.L().Warn("session: failed to encode profile head", zap.String("uid", header.UID), zap.Error(err))
		return
	}
	samplesJSON, err := json.Marshal(full.Samples)
	if err != nil {
		logging.L().Warn("session: failed to encode profile samples", zap.String("uid", header.UID), zap.Error(err))
		return
	}

	if err := s.store.SaveProfile(header, string(headJSON), string(samplesJSON)); err != nil {
		logging.L().Warn("session: failed to persist profile", zap.String("uid", header.UID), zap.Error(err))
		return
	}

	if s.exporter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	uri, err := s.exporter.Upload(ctx, header, full, time.Now())
	if err != nil {
		logging.L().Warn("session: profile export failed", zap.String("uid", header.UID), zap.Error(err))
		return
	}
	if err := s.store.SetExportedURI(header.UID, uri); err != nil {
		logging.L().Warn("session: failed to record exported profile uri", zap.String("uid", header.UID), zap.Error(err))
	}
}
