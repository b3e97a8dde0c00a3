package job_service

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrNoArtifact        = errors.New("no artifact for platform")
	ErrClosed            = errors.New("orchestrator closed")
)
