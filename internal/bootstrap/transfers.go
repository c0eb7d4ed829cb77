package bootstrap

import (
	"fmt"

	"codexmd/internal/jobs"
	"codexmd/internal/transfer"
)

// TransferInitResponse is the envelope for InitLargeFileTransfer. Transfer
// bindings never return a Go error; failures travel inside the envelope so
// the frontend chunk loop can branch on a single shape.
type TransferInitResponse struct {
	Success     bool   `json:"success"`
	TransferID  string `json:"transferId,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TransferChunkResponse is the envelope for TransferFileChunk.
type TransferChunkResponse struct {
	Success       bool   `json:"success"`
	ReceivedCount int    `json:"receivedCount,omitempty"`
	TotalChunks   int    `json:"totalChunks,omitempty"`
	Error         string `json:"error,omitempty"`
}

// TransferFinalizeResponse is the envelope for FinalizeLargeFileTransfer.
type TransferFinalizeResponse struct {
	Success        bool    `json:"success"`
	FinalPath      string  `json:"finalPath,omitempty"`
	SizeBytes      int64   `json:"sizeBytes,omitempty"`
	ElapsedSeconds float64 `json:"elapsedSeconds,omitempty"`
	ThroughputMBs  float64 `json:"throughputMBs,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// InitLargeFileTransfer opens a chunked transfer session for one file.
func (a *App) InitLargeFileTransfer(req transfer.InitRequest) TransferInitResponse {
	transferID, err := a.Transfers.InitTransfer(req)
	if err != nil {
		return TransferInitResponse{Error: err.Error()}
	}

	chunkSize := req.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = a.Runtime.ChunkSizeBytes
	}
	totalChunks := int((req.DeclaredSize + chunkSize - 1) / chunkSize)

	return TransferInitResponse{
		Success:     true,
		TransferID:  transferID,
		TotalChunks: totalChunks,
	}
}

// TransferFileChunk persists one base64-encoded chunk of a live session.
func (a *App) TransferFileChunk(req transfer.ChunkRequest) TransferChunkResponse {
	ack, err := a.Transfers.ReceiveChunk(req)
	if err != nil {
		return TransferChunkResponse{Error: err.Error()}
	}

	return TransferChunkResponse{
		Success:       true,
		ReceivedCount: ack.ReceivedCount,
		TotalChunks:   ack.TotalChunks,
	}
}

// FinalizeLargeFileTransfer reassembles the file and closes the session.
func (a *App) FinalizeLargeFileTransfer(transferID string) TransferFinalizeResponse {
	result, err := a.Transfers.FinalizeTransfer(transferID)
	if err != nil {
		return TransferFinalizeResponse{Error: err.Error()}
	}

	a.publishEvent(jobs.Event{
		TransferID: transferID,
		Type:       jobs.EventTypeTransfer,
		Message:    fmt.Sprintf("Transfer completed: %s", result.FinalPath),
	})

	return TransferFinalizeResponse{
		Success:        true,
		FinalPath:      result.FinalPath,
		SizeBytes:      result.SizeBytes,
		ElapsedSeconds: result.ElapsedSeconds,
		ThroughputMBs:  result.ThroughputMBs,
	}
}

// CancelLargeFileTransfer drops a live session and its persisted chunks.
func (a *App) CancelLargeFileTransfer(transferID string) TransferChunkResponse {
	a.Transfers.CleanupSession(transferID)
	return TransferChunkResponse{Success: true}
}
