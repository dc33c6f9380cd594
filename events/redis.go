package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arkantrust/order-service/logger"
)

// eventField is the stream entry field carrying the JSON envelope.
const eventField = "event"

// Options configures an Ingestor. Block and Count fall back to 2s and 16
// entries when unset.
type Options struct {
	Stream     string
	Group      string
	Consumer   string
	DeadLetter string

	// Block bounds each wait for new entries, so Run notices cancellation.
	Block time.Duration
	Count int64
}

func (o Options) withDefaults() Options {
	if o.Block <= 0 {
		o.Block = 2 * time.Second
	}
	if o.Count <= 0 {
		o.Count = 16
	}
	return o
}

// Ingestor reads person events from a Redis stream through a consumer group.
//
// Every entry is acknowledged once it has been dispatched, whatever the
// outcome. Entries that cannot be decoded or whose handler fails are copied
// to the dead-letter stream with the error first, so one bad notification
// never blocks the ones behind it. Entries left pending by a previous run of
// the same consumer are replayed before new ones are read.
type Ingestor struct {
	rdb     *goredis.Client
	handler Handler
	log     *logger.Logger
	opts    Options

	// recoverFrom is the last pending entry replayed, or "" once the
	// backlog has been walked.
	recoverFrom string
}

// NewIngestor returns an Ingestor that replays its own pending entries on the
// first polls and then reads new entries for opts.Consumer.
func NewIngestor(rdb *goredis.Client, h Handler, log *logger.Logger, opts Options) *Ingestor {
	return &Ingestor{
		rdb:         rdb,
		handler:     h,
		log:         log.With("service", "PersonEventIngestor", "stream", opts.Stream),
		opts:        opts.withDefaults(),
		recoverFrom: "0",
	}
}

// Setup creates the stream and consumer group if they do not exist yet.
func (in *Ingestor) Setup(ctx context.Context) error {
	err := in.rdb.XGroupCreateMkStream(ctx, in.opts.Stream, in.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run polls until ctx is done. Read errors are logged and retried after a
// short pause; they never end the loop.
func (in *Ingestor) Run(ctx context.Context) error {
	if err := in.Setup(ctx); err != nil {
		return err
	}
	in.log.Info("person event ingestor started", "group", in.opts.Group, "consumer", in.opts.Consumer)

	for ctx.Err() == nil {
		if _, err := in.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			in.log.Error("read person events", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}

	in.log.Info("person event ingestor stopped")
	return nil
}

// Poll reads and processes one batch and returns the number of entries
// processed.
//
// The pending backlog is walked once, forward from the last replayed entry, so
// an entry whose acknowledgement failed is not picked up again until restart.
func (in *Ingestor) Poll(ctx context.Context) (int, error) {
	args := &goredis.XReadGroupArgs{
		Group:    in.opts.Group,
		Consumer: in.opts.Consumer,
		Streams:  []string{in.opts.Stream, ">"},
		Count:    in.opts.Count,
		Block:    in.opts.Block,
	}
	recovering := in.recoverFrom != ""
	if recovering {
		// Our own pending entries; BLOCK does not apply to them.
		args.Streams[1] = in.recoverFrom
		args.Block = -1
	}

	streams, err := in.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	n := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			in.process(ctx, msg)
			n++
			if recovering {
				in.recoverFrom = msg.ID
			}
		}
	}
	if recovering && n == 0 {
		in.recoverFrom = ""
	}
	return n, nil
}

func (in *Ingestor) process(ctx context.Context, msg goredis.XMessage) {
	raw, _ := msg.Values[eventField].(string)
	log := in.log.With("entry_id", msg.ID)

	ev, err := Decode([]byte(raw))
	if err == nil {
		log = log.With("event_id", ev.ID, "type", ev.Type, "person_id", ev.Data.PersonID)
		var handled bool
		handled, err = Dispatch(ctx, in.handler, ev)
		if err == nil && !handled {
			log.Debug("person event ignored")
		}
	}

	if err != nil {
		log.Error("person event failed", "error", err)
		if dlErr := in.deadLetter(ctx, msg.ID, raw, err); dlErr != nil {
			log.Error("dead-letter person event", "error", dlErr)
		}
	}

	if err := in.rdb.XAck(ctx, in.opts.Stream, in.opts.Group, msg.ID).Err(); err != nil {
		log.Error("ack person event", "error", err)
	}
}

func (in *Ingestor) deadLetter(ctx context.Context, entryID, raw string, cause error) error {
	if in.opts.DeadLetter == "" {
		return nil
	}
	return in.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: in.opts.DeadLetter,
		Values: map[string]any{
			eventField: raw,
			"error":    cause.Error(),
			"entry_id": entryID,
		},
	}).Err()
}

// Publish appends ev to stream in the format the Ingestor reads.
func Publish(ctx context.Context, rdb *goredis.Client, stream string, ev Event) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]any{eventField: string(raw)},
	}).Result()
}
