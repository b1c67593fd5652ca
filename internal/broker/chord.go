package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/agbru/primecount/internal/logging"
)

// Chord bookkeeping lives next to task state:
//
//	chord:{id}:callback     encoded callback message
//	chord:{id}:result:{i}   result of member i, until the callback is queued
//	chord:{id}:members      set of member indexes that succeeded
//	chord:{id}:released     "pending" lease while the callback is pushed, then "done"
//	chord:{id}:failed       reason of the first member failure
//
// Every step is safe to repeat, so a member redelivered after a crash or
// retried after a store error re-evaluates the chord instead of being
// ignored.
func chordKey(id, suffix string) string { return "chord:" + id + ":" + suffix }

func chordIndexKey(id, kind string, i int) string {
	return chordKey(id, kind+":"+strconv.Itoa(i))
}

// defaultReleaseLease is used when no heartbeat interval is configured.
const defaultReleaseLease = 10 * time.Second

// Chord enqueues members as a group and arranges for callback to run once,
// after every member succeeded, with their results in member order. If any
// member fails permanently the callback is recorded as FAILURE and never
// runs. It returns the callback task id.
//
// Calling Chord again with the same id, as a retried dispatch does, pushes
// the members again; their results are counted once. A chord whose callback
// was already queued is left alone.
func (b *Broker) Chord(ctx context.Context, id string, members []Signature, callback Signature) (string, error) {
	cb, err := newMessage(callback)
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		if err := b.queue.Push(ctx, cb, 0); err != nil {
			return "", err
		}
		return cb.ID, nil
	}

	if _, released, err := b.kv.Get(ctx, chordKey(id, "released")); err != nil {
		return "", err
	} else if released {
		if prev, ok, err := b.loadCallback(ctx, id); err != nil {
			return "", err
		} else if ok {
			return prev.ID, nil
		}
	}

	raw, err := json.Marshal(cb)
	if err != nil {
		return "", fmt.Errorf("encode chord callback: %w", err)
	}
	if err := b.kv.Set(ctx, chordKey(id, "callback"), string(raw), b.cfg.ResultExpires); err != nil {
		return "", err
	}
	for i, sig := range members {
		msg, err := newMessage(sig)
		if err != nil {
			return "", err
		}
		msg.Chord = &ChordRef{ID: id, Index: i, Size: len(members)}
		if err := b.queue.Push(ctx, msg, 0); err != nil {
			return "", err
		}
	}
	b.logger.Debug("chord enqueued",
		logging.String("chord", id),
		logging.Int("members", len(members)),
		logging.String("callback", cb.ID))
	return cb.ID, nil
}

// chordMemberDone records a successful member and releases the callback when
// the member set is complete. The count comes from the set, not from this
// delivery, so a duplicate delivery still completes a chord whose earlier
// run stopped half way.
func (b *Broker) chordMemberDone(ctx context.Context, ref ChordRef, result json.RawMessage) error {
	ttl := b.cfg.ResultExpires
	if err := b.kv.Set(ctx, chordIndexKey(ref.ID, "result", ref.Index), string(result), ttl); err != nil {
		return err
	}
	membersKey := chordKey(ref.ID, "members")
	if _, err := b.kv.SAdd(ctx, membersKey, strconv.Itoa(ref.Index)); err != nil {
		return err
	}
	if err := b.kv.Expire(ctx, membersKey, ttl); err != nil {
		return err
	}
	done, err := b.kv.SCard(ctx, membersKey)
	if err != nil {
		return err
	}
	if done < int64(ref.Size) {
		b.logger.Debug("chord member done", logging.String("chord", ref.ID), logging.Int64("done", done))
		return nil
	}
	return b.releaseCallback(ctx, ref)
}

// releaseCallback queues the callback of a complete chord. Any member that
// sees the chord complete may get here; the released key lets one through.
// It is first taken as a lease shorter than dead-worker detection, so a
// worker dying before the push does not block a redelivered member, and is
// made permanent once the callback is queued.
func (b *Broker) releaseCallback(ctx context.Context, ref ChordRef) error {
	if reason, failed, err := b.kv.Get(ctx, chordKey(ref.ID, "failed")); err != nil {
		return err
	} else if failed {
		return b.recordChordFailure(ctx, ref.ID, reason, false)
	}

	releasedKey := chordKey(ref.ID, "released")
	won, err := b.kv.SetNX(ctx, releasedKey, "pending", b.releaseLease())
	if err != nil || !won {
		return err
	}
	cb, err := b.pushCallback(ctx, ref)
	if err != nil {
		if derr := b.kv.Del(ctx, releasedKey); derr != nil {
			b.logger.Error("drop chord lease failed", derr, logging.String("chord", ref.ID))
		}
		return err
	}
	b.logger.Debug("chord complete", logging.String("chord", ref.ID), logging.String("callback", cb))

	if err := b.kv.Set(ctx, releasedKey, "done", b.cfg.ResultExpires); err != nil {
		b.logger.Error("mark chord released failed", err, logging.String("chord", ref.ID))
	}
	keys := make([]string, 0, ref.Size)
	for i := range ref.Size {
		keys = append(keys, chordIndexKey(ref.ID, "result", i))
	}
	if err := b.kv.Del(ctx, keys...); err != nil {
		b.logger.Error("drop chord results failed", err, logging.String("chord", ref.ID))
	}
	return nil
}

// pushCallback queues the stored callback with the members' results and
// returns its id. A callback that already expired is dropped.
func (b *Broker) pushCallback(ctx context.Context, ref ChordRef) (string, error) {
	cb, ok, err := b.loadCallback(ctx, ref.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		b.logger.Info("chord callback expired", logging.String("chord", ref.ID))
		return "", nil
	}
	cb.Results = make([]json.RawMessage, ref.Size)
	for i := range ref.Size {
		raw, ok, err := b.kv.Get(ctx, chordIndexKey(ref.ID, "result", i))
		if err != nil {
			return "", err
		}
		if ok {
			cb.Results[i] = json.RawMessage(raw)
		}
	}
	if err := b.queue.Push(ctx, cb, 0); err != nil {
		return "", err
	}
	return cb.ID, nil
}

func (b *Broker) releaseLease() time.Duration {
	if b.cfg.Heartbeat > 0 {
		return b.cfg.Heartbeat
	}
	return defaultReleaseLease
}

// chordMemberFailed short-circuits the chord: the callback is recorded as
// FAILURE. Only the first failure's reason is reported; later calls record
// that same reason again, which repairs a report cut short by a store error.
func (b *Broker) chordMemberFailed(ctx context.Context, ref ChordRef, memberID string, cause error) error {
	reason := fmt.Sprintf("chord member %s failed: %v", memberID, cause)
	first, err := b.kv.SetNX(ctx, chordKey(ref.ID, "failed"), reason, b.cfg.ResultExpires)
	if err != nil {
		return err
	}
	if !first {
		stored, ok, err := b.kv.Get(ctx, chordKey(ref.ID, "failed"))
		if err != nil {
			return err
		}
		if ok {
			reason = stored
		}
	}
	return b.recordChordFailure(ctx, ref.ID, reason, first)
}

// recordChordFailure writes the FAILURE state of the chord's callback unless
// the callback was already queued.
func (b *Broker) recordChordFailure(ctx context.Context, id, reason string, first bool) error {
	if _, released, err := b.kv.Get(ctx, chordKey(id, "released")); err != nil || released {
		return err
	}
	cb, ok, err := b.loadCallback(ctx, id)
	if err != nil || !ok {
		return err
	}
	if err := b.setMeta(ctx, Meta{ID: cb.ID, Task: cb.Task, State: StateFailure, Error: reason}); err != nil {
		return err
	}
	if first {
		b.observer.TaskFinished(cb.Task, StateFailure, 0)
	}
	return nil
}

func (b *Broker) loadCallback(ctx context.Context, id string) (Message, bool, error) {
	raw, ok, err := b.kv.Get(ctx, chordKey(id, "callback"))
	if err != nil || !ok {
		return Message{}, false, err
	}
	var cb Message
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		return Message{}, false, fmt.Errorf("decode chord callback %s: %w", id, err)
	}
	return cb, true, nil
}
