// Package transfer reassembles large files sent from the frontend as
// base64-encoded chunks, so no full file ever has to cross the binding
// boundary in one message.
package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"codexmd/internal/scratch"
)

// DefaultChunkSize is used when the caller does not negotiate a chunk size.
const DefaultChunkSize int64 = 24 * 1024 * 1024

// ErrInvalidRequest is returned for malformed or missing request fields.
var ErrInvalidRequest = errors.New("invalid transfer request")

// ErrSessionNotFound is returned when a transfer id references no live session.
var ErrSessionNotFound = errors.New("transfer session not found")

// ErrIncompleteTransfer is returned when finalize runs before all chunks arrived.
var ErrIncompleteTransfer = errors.New("transfer is incomplete")

// MissingChunkError reports a chunk file that vanished before reassembly.
type MissingChunkError struct {
	Index int
}

// Error formats the missing chunk index for caller diagnostics.
func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunk %d is missing", e.Index)
}

// ChunkSizeMismatchError reports a chunk whose decoded size disagrees with
// the declared size. Size handling is strict across the whole protocol.
type ChunkSizeMismatchError struct {
	Index    int
	Declared int64
	Decoded  int64
}

// Error formats declared versus decoded sizes.
func (e *ChunkSizeMismatchError) Error() string {
	return fmt.Sprintf("chunk %d size mismatch: declared %d bytes, decoded %d bytes", e.Index, e.Declared, e.Decoded)
}

// PathValidator confirms a destination path lies inside an allowed root.
type PathValidator interface {
	Validate(path string) error
}

// InitRequest starts a new chunked transfer session.
type InitRequest struct {
	DestinationPath string `json:"destinationPath" validate:"required"`
	FileName        string `json:"fileName" validate:"required"`
	DeclaredSize    int64  `json:"declaredSize" validate:"required,gt=0"`
	ChunkSizeBytes  int64  `json:"chunkSizeBytes" validate:"omitempty,gt=0"`
	MimeType        string `json:"mimeType"`
}

// ChunkRequest carries one base64-encoded chunk of a live session.
type ChunkRequest struct {
	TransferID string `json:"transferId" validate:"required"`
	ChunkIndex int    `json:"chunkIndex" validate:"gte=0"`
	Data       string `json:"data" validate:"required"`
	SizeBytes  int64  `json:"sizeBytes" validate:"required,gt=0"`
}

// Ack reports session progress after a chunk is persisted.
type Ack struct {
	ReceivedCount int `json:"receivedCount"`
	TotalChunks   int `json:"totalChunks"`
}

// FinalizeResult reports the reassembled file and simple throughput stats.
type FinalizeResult struct {
	FinalPath      string  `json:"finalPath"`
	SizeBytes      int64   `json:"sizeBytes"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	ThroughputMBs  float64 `json:"throughputMBs"`
}

// chunkRecord tracks one persisted chunk file.
type chunkRecord struct {
	path      string
	sizeBytes int64
}

// Session is the in-memory state of one in-flight chunked transfer.
type Session struct {
	ID              string
	DestinationPath string
	ChunkDirectory  string
	FileName        string
	DeclaredSize    int64
	MimeType        string
	ChunkSizeBytes  int64
	TotalChunks     int
	StartedAt       time.Time

	received     map[int]chunkRecord
	lastActivity time.Time
}

// ReceivedCount reports how many distinct chunk indexes have been persisted.
func (s *Session) ReceivedCount() int {
	return len(s.received)
}

// Coordinator owns the table of live transfer sessions. It is constructed
// once per application lifetime and handed to the binding layer.
type Coordinator struct {
	paths            PathValidator
	defaultChunkSize int64
	logger           *slog.Logger
	validate         *validator.Validate
	now              func() time.Time
	newID            func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator builds a coordinator with an empty session table.
func NewCoordinator(paths PathValidator, defaultChunkSize int64, logger *slog.Logger) *Coordinator {
	if defaultChunkSize <= 0 {
		defaultChunkSize = DefaultChunkSize
	}

	return &Coordinator{
		paths:            paths,
		defaultChunkSize: defaultChunkSize,
		logger:           logger,
		validate:         validator.New(),
		now:              time.Now,
		newID:            uuid.NewString,
		sessions:         make(map[string]*Session),
	}
}

// NewCoordinatorForTests builds a coordinator with injectable clock and ids.
func NewCoordinatorForTests(
	paths PathValidator,
	defaultChunkSize int64,
	logger *slog.Logger,
	now func() time.Time,
	newID func() string,
) *Coordinator {
	c := NewCoordinator(paths, defaultChunkSize, logger)
	if now != nil {
		c.now = now
	}
	if newID != nil {
		c.newID = newID
	}
	return c
}

// InitTransfer validates the request, creates the per-session chunk
// directory next to the destination, and registers a fresh session.
func (c *Coordinator) InitTransfer(req InitRequest) (string, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := c.paths.Validate(req.DestinationPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	chunkSize := req.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = c.defaultChunkSize
	}
	totalChunks := int((req.DeclaredSize + chunkSize - 1) / chunkSize)

	id := c.newID()
	dir, err := scratch.Create(filepath.Dir(req.DestinationPath), "chunks_"+id)
	if err != nil {
		return "", err
	}

	started := c.now()
	session := &Session{
		ID:              id,
		DestinationPath: req.DestinationPath,
		ChunkDirectory:  dir.Path(),
		FileName:        req.FileName,
		DeclaredSize:    req.DeclaredSize,
		MimeType:        req.MimeType,
		ChunkSizeBytes:  chunkSize,
		TotalChunks:     totalChunks,
		StartedAt:       started,
		received:        make(map[int]chunkRecord, totalChunks),
		lastActivity:    started,
	}

	c.mu.Lock()
	c.sessions[id] = session
	c.mu.Unlock()

	c.logger.Info("transfer session initialized",
		slog.String("transferId", id),
		slog.String("fileName", req.FileName),
		slog.Int64("declaredSize", req.DeclaredSize),
		slog.Int64("chunkSize", chunkSize),
		slog.Int("totalChunks", totalChunks))
	return id, nil
}

// ReceiveChunk decodes and persists one chunk. A re-sent index overwrites
// the previous chunk file and does not double count.
func (c *Coordinator) ReceiveChunk(req ChunkRequest) (Ack, error) {
	if err := c.validate.Struct(req); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	c.mu.Lock()
	session, ok := c.sessions[req.TransferID]
	c.mu.Unlock()
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrSessionNotFound, req.TransferID)
	}
	if req.ChunkIndex >= session.TotalChunks {
		return Ack{}, fmt.Errorf("%w: chunk index %d out of range (total %d)",
			ErrInvalidRequest, req.ChunkIndex, session.TotalChunks)
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: chunk %d is not valid base64: %v", ErrInvalidRequest, req.ChunkIndex, err)
	}
	if int64(len(data)) != req.SizeBytes {
		return Ack{}, &ChunkSizeMismatchError{
			Index:    req.ChunkIndex,
			Declared: req.SizeBytes,
			Decoded:  int64(len(data)),
		}
	}

	chunkPath := filepath.Join(session.ChunkDirectory, "chunk_"+strconv.Itoa(req.ChunkIndex))
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		return Ack{}, fmt.Errorf("persist chunk %d: %w", req.ChunkIndex, err)
	}

	c.mu.Lock()
	session.received[req.ChunkIndex] = chunkRecord{path: chunkPath, sizeBytes: int64(len(data))}
	session.lastActivity = c.now()
	ack := Ack{ReceivedCount: session.ReceivedCount(), TotalChunks: session.TotalChunks}
	c.mu.Unlock()

	c.logger.Debug("chunk persisted",
		slog.String("transferId", req.TransferID),
		slog.Int("chunkIndex", req.ChunkIndex),
		slog.Int("receivedCount", ack.ReceivedCount),
		slog.Int("totalChunks", ack.TotalChunks))
	return ack, nil
}

// FinalizeTransfer reassembles all chunks into the destination file in
// ascending index order. The session is consumed whether finalize succeeds
// or fails; chunk files and the chunk directory are always removed.
func (c *Coordinator) FinalizeTransfer(transferID string) (FinalizeResult, error) {
	c.mu.Lock()
	session, ok := c.sessions[transferID]
	var received map[int]chunkRecord
	if ok {
		delete(c.sessions, transferID)
		// Snapshot under the lock so a late ReceiveChunk cannot race the
		// reassembly loop.
		received = make(map[int]chunkRecord, len(session.received))
		for index, record := range session.received {
			received[index] = record
		}
	}
	c.mu.Unlock()
	if !ok {
		return FinalizeResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, transferID)
	}

	if len(received) != session.TotalChunks {
		c.removeChunkDir(session)
		return FinalizeResult{}, fmt.Errorf("%w: received %d of %d chunks",
			ErrIncompleteTransfer, len(received), session.TotalChunks)
	}

	if err := c.assemble(session, received); err != nil {
		c.removeChunkDir(session)
		return FinalizeResult{}, err
	}

	info, err := os.Stat(session.DestinationPath)
	if err != nil {
		c.removeChunkDir(session)
		return FinalizeResult{}, fmt.Errorf("stat reassembled file: %w", err)
	}
	if info.Size() != session.DeclaredSize {
		// Declared size is advisory; the written bytes are authoritative.
		c.logger.Warn("reassembled size differs from declared size",
			slog.String("transferId", session.ID),
			slog.Int64("declaredSize", session.DeclaredSize),
			slog.Int64("actualSize", info.Size()))
	}

	c.removeChunkDir(session)

	elapsed := c.now().Sub(session.StartedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	result := FinalizeResult{
		FinalPath:      session.DestinationPath,
		SizeBytes:      info.Size(),
		ElapsedSeconds: elapsed,
		ThroughputMBs:  float64(session.DeclaredSize) / elapsed / (1024 * 1024),
	}

	c.logger.Info("transfer finalized",
		slog.String("transferId", session.ID),
		slog.String("finalPath", result.FinalPath),
		slog.Int64("sizeBytes", result.SizeBytes),
		slog.Float64("elapsedSeconds", result.ElapsedSeconds),
		slog.Float64("throughputMBs", result.ThroughputMBs))
	return result, nil
}

// assemble writes every chunk to the destination in ascending index order.
// On any failure the partial output file is discarded.
func (c *Coordinator) assemble(session *Session, received map[int]chunkRecord) error {
	out, err := os.OpenFile(session.DestinationPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open destination %s: %w", session.DestinationPath, err)
	}

	for i := 0; i < session.TotalChunks; i++ {
		record, ok := received[i]
		if !ok {
			c.discardPartial(out, session.DestinationPath)
			return &MissingChunkError{Index: i}
		}

		data, err := os.ReadFile(record.path)
		if err != nil {
			c.discardPartial(out, session.DestinationPath)
			if os.IsNotExist(err) {
				return &MissingChunkError{Index: i}
			}
			return fmt.Errorf("read chunk %d: %w", i, err)
		}
		if _, err := out.Write(data); err != nil {
			c.discardPartial(out, session.DestinationPath)
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

// discardPartial closes and removes a half-written destination file.
func (c *Coordinator) discardPartial(out *os.File, path string) {
	_ = out.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("could not remove partial output",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

// CleanupSession drops one session and its chunk directory, best-effort.
func (c *Coordinator) CleanupSession(transferID string) {
	c.mu.Lock()
	session, ok := c.sessions[transferID]
	if ok {
		delete(c.sessions, transferID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.removeChunkDir(session)
}

// CleanupAll drops every live session, typically during app shutdown.
func (c *Coordinator) CleanupAll() {
	c.mu.Lock()
	ids := lo.Keys(c.sessions)
	c.mu.Unlock()

	for _, id := range ids {
		c.CleanupSession(id)
	}
	if len(ids) > 0 {
		c.logger.Info("cleaned up live transfer sessions", slog.Int("count", len(ids)))
	}
}

// SweepStale expires sessions idle beyond maxIdle and returns the count.
func (c *Coordinator) SweepStale(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)

	c.mu.Lock()
	stale := make([]string, 0)
	for id, session := range c.sessions {
		if session.lastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		c.logger.Warn("expiring stale transfer session", slog.String("transferId", id))
		c.CleanupSession(id)
	}
	return len(stale)
}

// ActiveSessions reports the number of live sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// removeChunkDir removes a session's chunk directory, logging failures only.
func (c *Coordinator) removeChunkDir(session *Session) {
	if err := scratch.Open(session.ChunkDirectory).Remove(); err != nil {
		c.logger.Warn("could not remove chunk directory",
			slog.String("transferId", session.ID),
			slog.String("dir", session.ChunkDirectory),
			slog.String("error", err.Error()))
	}
}
