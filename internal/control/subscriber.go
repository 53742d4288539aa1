package control

import (
	"context"
	"log/slog"

	"github.com/chainflux/logwatch/internal/core/domain"
)

// loggingSubscriber is the default subscriber the CLI attaches to every
// address configured at startup: it has no state of its own, so it does
// not need the StatefulBase helper, and exists to make the engine's
// subscription lifecycle observable out of the box.
type loggingSubscriber struct {
	log     *slog.Logger
	address string
}

func newLoggingSubscriber(log *slog.Logger, address string) *loggingSubscriber {
	return &loggingSubscriber{log: log, address: address}
}

func (s *loggingSubscriber) Initialize(ctx context.Context, anchor domain.Block) error {
	s.log.Info("subscriber initialized", "address", s.address, "anchor", anchor.Number)
	return nil
}

func (s *loggingSubscriber) HandleLog(ctx context.Context, log domain.Log) {
	s.log.Info("log delivered",
		"address", s.address,
		"block", log.BlockNumber,
		"tx", log.TransactionHash,
		"log_index", log.LogIndex,
		"removed", log.Removed,
	)
}

func (s *loggingSubscriber) Rollback(target domain.Block) {
	s.log.Info("subscriber rolled back", "address", s.address, "target", target.Number)
}
