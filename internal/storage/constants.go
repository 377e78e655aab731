package db

import (
	"github.com/podscout/podscout/internal/core/domain"
)

// Pipeline status constants (aliased from domain).
const (
	StatusPending    = domain.StatusPending
	StatusInProgress = domain.StatusInProgress
	StatusCompleted  = domain.StatusCompleted
	StatusFailed     = domain.StatusFailed
)

// Lock stages recorded in processing-lock sentinels.
const (
	LockStageVetting       = "VETTING"
	LockStageAIDescription = "AIDESC"
)

