// Package archival exports a completed historical simulation's final
// snapshot and its trade log to object storage, mirroring the teacher's
// R2BackupService archive-then-upload shape (metadata file + tar.gz,
// checksum, upload) from internal/reliability/r2_backup_service.go.
//
// The teacher uploads through a *reliability.R2Client wrapper that is
// not present in this retrieval pack (grep for "type R2Client" across
// the pack returns nothing), so this package talks to S3 directly via
// aws-sdk-go-v2's manager.Uploader instead of reconstructing a type
// that was never retrieved.
package archival

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config parameterizes where completed-simulation archives land.
type Config struct {
	Bucket string
	Prefix string // key prefix, e.g. "historical-completions/"
}

// Exporter uploads a tar.gz archive containing a completed historical
// simulation's final snapshot and trade history to S3-compatible
// storage.
type Exporter struct {
	cfg      Config
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewExporter builds an Exporter around an S3 client (pointed at
// Cloudflare R2 or any S3-compatible endpoint via its own
// endpoint-resolver options).
func NewExporter(cfg Config, client *s3.Client, log zerolog.Logger) *Exporter {
	return &Exporter{
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "archival_exporter").Logger(),
	}
}

type completionMetadata struct {
	SimulationID string    `json:"simulation_id"`
	CompletedAt  time.Time `json:"completed_at"`
	FinalDay     int       `json:"final_day"`
	TradeCount   int       `json:"trade_count"`
	Checksum     string    `json:"checksum"`
}

// ExportCompletion archives snapshot's final state for simulationID:
// snapshot.json, trades.json, and a metadata.json summary, bundled into
// a single tar.gz object keyed by simulation id and completion time.
func (e *Exporter) ExportCompletion(ctx context.Context, simulationID string, snapshot domain.SimulationSnapshot) error {
	snapJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	allTrades := make([]domain.Trade, 0)
	for _, agent := range snapshot.Agents {
		allTrades = append(allTrades, agent.TradeHistory...)
	}
	tradesJSON, err := json.MarshalIndent(allTrades, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trade history: %w", err)
	}

	checksum := fmt.Sprintf("sha256:%x", sha256.Sum256(snapJSON))
	meta := completionMetadata{
		SimulationID: simulationID,
		CompletedAt:  time.Now().UTC(),
		FinalDay:     snapshot.Day,
		TradeCount:   len(allTrades),
		Checksum:     checksum,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal completion metadata: %w", err)
	}

	archive, err := buildArchive(map[string][]byte{
		"snapshot.json": snapJSON,
		"trades.json":   tradesJSON,
		"metadata.json": metaJSON,
	})
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}

	key := fmt.Sprintf("%s%s-%s.tar.gz", e.cfg.Prefix, simulationID, meta.CompletedAt.Format("2006-01-02-150405"))
	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &e.cfg.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(archive),
	})
	if err != nil {
		return fmt.Errorf("upload completion archive: %w", err)
	}

	e.log.Info().
		Str("simulation_id", simulationID).
		Str("key", key).
		Int("size_bytes", len(archive)).
		Msg("exported historical completion archive")
	return nil
}

func buildArchive(files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	for name, data := range files {
		header := &tar.Header{
			Name: name,
			Size: int64(len(data)),
			Mode: 0o644,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
