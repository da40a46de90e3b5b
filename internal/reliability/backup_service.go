// Package reliability handles operational safety nets: remote database
// backups and periodic WAL maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/events"
)

// BackupConfig configures the remote backup target. An empty Bucket
// disables backups entirely.
type BackupConfig struct {
	Bucket string
	Region string
	Prefix string
}

// BackupService archives the databases and uploads them to S3-compatible
// storage. Databases are checkpointed before copying so the snapshot
// includes everything in the WAL.
type BackupService struct {
	cfg       BackupConfig
	databases []*database.DB
	dataDir   string
	uploader  *manager.Uploader
	events    *events.Manager
	log       zerolog.Logger
}

// NewBackupService creates the backup service. Returns a disabled service
// when no bucket is configured; BackupAll is then a no-op.
func NewBackupService(
	ctx context.Context,
	cfg BackupConfig,
	databases []*database.DB,
	dataDir string,
	eventBus *events.Manager,
	log zerolog.Logger,
) (*BackupService, error) {
	svc := &BackupService{
		cfg:       cfg,
		databases: databases,
		dataDir:   dataDir,
		events:    eventBus,
		log:       log.With().Str("service", "backup").Logger(),
	}

	if cfg.Bucket == "" {
		svc.log.Info().Msg("No backup bucket configured, backups disabled")
		return svc, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	svc.uploader = manager.NewUploader(s3.NewFromConfig(awsCfg))

	return svc, nil
}

// Enabled reports whether a backup target is configured.
func (s *BackupService) Enabled() bool {
	return s.uploader != nil
}

// BackupAll checkpoints every database, archives the files, and uploads one
// tar.gz snapshot.
func (s *BackupService) BackupAll(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	started := time.Now()
	s.log.Info().Msg("Starting backup")

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	var files []string
	for _, db := range s.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return err
		}
		dst := filepath.Join(stagingDir, db.Name()+".db")
		if err := copyFile(db.Path(), dst); err != nil {
			return fmt.Errorf("failed to stage %s: %w", db.Name(), err)
		}
		files = append(files, dst)
	}

	archiveName := fmt.Sprintf("steward-backup-%s.tar.gz", time.Now().UTC().Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	key := archiveName
	if s.cfg.Prefix != "" {
		key = s.cfg.Prefix + "/" + archiveName
	}
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
		Body:   archive,
	}); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.events.Emit(events.BackupFinished, "backup", map[string]interface{}{
		"archive":     archiveName,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	s.log.Info().
		Str("archive", archiveName).
		Dur("duration", time.Since(started)).
		Msg("Backup completed")

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func createArchive(archivePath string, files []string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.Base(file)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(file)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}

	return nil
}
