package arq

/*------------------------------------------------------------------
 *
 * Purpose:	Transmit queue - hold encoded frames for handoff to the modem.
 *
 * Description:	Generalized from the teacher's per-radio-channel tq.go: this
 *		protocol has exactly one channel (the link to the modem), so
 *		there is one queue, not one per audio device. Producers
 *		(session drivers) call Enqueue and move on; a single pump
 *		goroutine drains it into the ModemTransmitter. Back-pressure
 *		on a full queue is acceptable per §5 and is implemented
 *		simply as a blocking channel send.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// TxItem is one encoded frame waiting for the modem.
type TxItem struct {
	Mode    TxMode
	Repeats int
	Delay   time.Duration
	Payload []byte
}

// TransmitQueue is a bounded FIFO between session drivers and the modem.
type TransmitQueue struct {
	ch chan TxItem
}

// NewTransmitQueue creates a queue with the given capacity. A capacity of
// 0 still works (fully synchronous handoff) but will make Enqueue block
// until Pump is actively draining.
func NewTransmitQueue(capacity int) *TransmitQueue {
	return &TransmitQueue{ch: make(chan TxItem, capacity)}
}

// Enqueue adds an item to the tail of the queue, blocking if it is full.
// It respects ctx cancellation so a session abort doesn't wedge forever on
// a saturated queue.
func (q *TransmitQueue) Enqueue(ctx context.Context, item TxItem) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pump drains the queue into the modem until ctx is cancelled. It is meant
// to run in its own goroutine, the Go analogue of the teacher's per-channel
// xmit_thread.
func (q *TransmitQueue) Pump(ctx context.Context, modem ModemTransmitter, logger *log.Logger) {
	logger = defaultLogger(logger)
	for {
		select {
		case item := <-q.ch:
			if err := modem.Transmit(item.Mode, item.Repeats, item.Delay, item.Payload); err != nil {
				logger.Warn("modem transmit failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
