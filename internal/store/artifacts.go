// Package store persists engine output twice over: an append-only JSON
// artifact trail on disk for every pipeline stage, and a Postgres store for
// decisions, trades and the equity curve with pgvector feature similarity.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Artifact agents, one directory per pipeline stage.
const (
	AgentDataSync   = "data_sync"
	AgentIndicators = "indicators"
	AgentFeatures   = "features"
	AgentQuant      = "quant"
	AgentDecisions  = "decisions"
	AgentRisk       = "risk"
	AgentExecutions = "executions"
)

// ArtifactStore writes pipeline artifacts under
// <root>/<agent>/<YYYYMMDD>/<kind>_<symbol>[_<tf>]_<ts>_<snapshot_id>.json.
// The tree is append-only; the snapshot id keys a cycle across stages, so
// one cycle can be reassembled stage by stage from the filenames alone.
type ArtifactStore struct {
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// NewArtifactStore creates an artifact store rooted at dir.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{
		root:   root,
		now:    time.Now,
		logger: log.With().Str("component", "artifact_store").Logger(),
	}
}

// Save writes one artifact and returns its path. timeframe is empty for
// artifacts that span timeframes (decisions, risk verdicts, executions).
func (s *ArtifactStore) Save(agent, kind, symbol, timeframe, snapshotID string, v interface{}) (string, error) {
	ts := s.now().UTC()
	dir := filepath.Join(s.root, agent, ts.Format("20060102"))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	name := kind + "_" + symbol
	if timeframe != "" {
		name += "_" + timeframe
	}
	name += "_" + ts.Format("150405") + "_" + snapshotID + ".json"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	s.logger.Debug().
		Str("agent", agent).
		Str("kind", kind).
		Str("snapshot_id", snapshotID).
		Str("path", path).
		Msg("Artifact written")

	return path, nil
}
