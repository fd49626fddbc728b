package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithDatabase adds source/dataset context to logger.
func (l *Logger) WithDatabase(source, dataset string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("source", source).Str("dataset", dataset).Logger(),
	}
}

// WithManifest adds manifest-timestamp context to logger.
func (l *Logger) WithManifest(timestamp string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("manifest_ts", timestamp).Logger(),
	}
}

// WithSync adds sync-attempt context to logger.
func (l *Logger) WithSync(attemptID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("sync_attempt", attemptID).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// IngestProgress logs batch-ingest progress.
func (l *Logger) IngestProgress(source, dataset string, sequencesDone, sequencesTotal int) {
	l.logger.Info().
		Str("source", source).
		Str("dataset", dataset).
		Int("sequences_done", sequencesDone).
		Int("sequences_total", sequencesTotal).
		Msg("ingest progress")
}

// IngestCommitted logs a completed ingest session's manifest commit.
func (l *Logger) IngestCommitted(source, dataset, manifestTimestamp string, duration time.Duration, chunksWritten, sequencesWritten int) {
	l.logger.Info().
		Str("source", source).
		Str("dataset", dataset).
		Str("manifest_ts", manifestTimestamp).
		Float64("duration_seconds", duration.Seconds()).
		Int("chunks_written", chunksWritten).
		Int("sequences_written", sequencesWritten).
		Msg("ingest committed")
}

// SyncStarted logs the start of a diff/sync attempt.
func (l *Logger) SyncStarted(source, dataset string, newChunks int) {
	l.logger.Info().
		Str("source", source).
		Str("dataset", dataset).
		Int("new_chunks", newChunks).
		Msg("sync started")
}

// SyncCompleted logs a successful sync installation.
func (l *Logger) SyncCompleted(source, dataset, manifestTimestamp string, duration time.Duration, chunksFetched int) {
	l.logger.Info().
		Str("source", source).
		Str("dataset", dataset).
		Str("manifest_ts", manifestTimestamp).
		Float64("duration_seconds", duration.Seconds()).
		Int("chunks_fetched", chunksFetched).
		Msg("sync completed")
}

// ChunkVerifyFailed logs a chunk hash-verification failure during sync.
func (l *Logger) ChunkVerifyFailed(expectedHash, actualHash string, attempt int) {
	l.logger.Error().
		Str("expected_hash", expectedHash).
		Str("actual_hash", actualHash).
		Int("attempt", attempt).
		Msg("chunk hash verification failed")
}

// GCSwept logs a completed garbage-collection sweep.
func (l *Logger) GCSwept(chunksDeleted, sequencesDeleted int, bytesFreed uint64, dryRun bool) {
	l.logger.Info().
		Int("chunks_deleted", chunksDeleted).
		Int("sequences_deleted", sequencesDeleted).
		Uint64("bytes_freed", bytesFreed).
		Bool("dry_run", dryRun).
		Msg("garbage collection swept")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
