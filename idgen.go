package jobq

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces the opaque, globally unique string spec §3
// requires for Job.ID. The core never inspects the shape of the id
// beyond treating it as an opaque key.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates RFC 4122 version 4 ids. It is the default
// used by NewQueue.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// ULIDGenerator generates time-sortable ULIDs, which can help an
// adapter's physical storage order track creation order in addition
// to the priority-desc/created-asc dispatch order the core already
// guarantees logically.
type ULIDGenerator struct{}

func (ULIDGenerator) NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}
