package ops

import (
	"crypto/rand"
	stderrors "errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/lichen/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Extension stages, in pipeline order. A failed attempt reports the stage it
// stopped at; a completed one reports StageRegister.
const (
	StageParse     = "parse"
	StageValidate  = "validate"
	StagePreflight = "preflight"
	StagePersist   = "persist"
	StageReload    = "reload"
	StageLocate    = "locate"
	StageExecute   = "execute"
	StageRegister  = "register"
)

// clampPage applies limit defaults and bounds and a non-negative offset.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

// Ledger ids sort in creation order within a process, including ids minted
// in the same millisecond.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func generateULID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// message returns the user-facing part of err.
func message(err error) string {
	var lErr *errors.LichenError
	if stderrors.As(err, &lErr) {
		return lErr.Message
	}
	return err.Error()
}
