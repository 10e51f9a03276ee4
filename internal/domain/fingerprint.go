package domain

import (
	"crypto/sha1" //nolint:gosec // collision resistance, not secrecy
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint derives the stable job identifier threading both pipeline
// stages: SHA-1 over (user key, tool, unix seconds). Deterministic per
// submission.
func Fingerprint(userKey string, tool Tool, unixSeconds int64) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s:%s:%d", userKey, tool, unixSeconds))) //nolint:gosec
	return hex.EncodeToString(h[:])
}

// ParseStageEvent splits an event of the form "{stage}.{outcome}" and
// validates both halves.
func ParseStageEvent(event string) (stage string, outcome WorkerState, err error) {
	parts := strings.SplitN(event, ".", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed event %q", ErrInvalidArgument, event)
	}
	stage = parts[0]
	if stage != StageTask && stage != StageDownloader {
		return "", "", fmt.Errorf("%w: unknown stage %q", ErrInvalidArgument, stage)
	}
	switch WorkerState(parts[1]) {
	case WorkerCompleted, WorkerFailed:
		return stage, WorkerState(parts[1]), nil
	}
	return "", "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, parts[1])
}
