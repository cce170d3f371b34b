package chain

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSubmitter records weight vectors in the log instead of sending them to
// a chain. It stands in for the real chain client, which lives outside this
// service, while keeping the submission cadence and idempotence machinery
// fully exercised.
type LogSubmitter struct{}

// SetWeights logs the vector and reports success.
func (LogSubmitter) SetWeights(_ context.Context, mechanism string, uids []int, values []uint16) error {
	log.Info().
		Str("mechanism", mechanism).
		Ints("uids", uids).
		Int("count", len(uids)).
		Msg("Weight vector ready for chain submission")
	return nil
}
