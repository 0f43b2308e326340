package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/mailtasks/internal/ai"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/store"
)

// run is the mutable state of one account's Run.
type run struct {
	p       *Pipeline
	cred    model.Credential
	sink    progress.Sink
	total   int
	batches int
	done    int
	sum     Summary
}

// assignment is the set of drafts attributed to one message.
type assignment struct {
	drafts []ai.Draft
	err    error
}

// batch processes one batch. It never returns an error: any failure marks
// the batch's not-yet-recorded messages as failed.
func (r *run) batch(ctx context.Context, index int, msgs []model.Message) {
	r.sink.Emit(progress.Event{
		Kind:         progress.KindBatch,
		Message:      fmt.Sprintf("Processing batch %d of %d", index+1, r.batches),
		Current:      r.done,
		Total:        r.total,
		BatchIndex:   index + 1,
		TotalBatches: r.batches,
	})

	marked := make(map[string]bool, len(msgs))
	if err := r.extractBatch(ctx, msgs, marked); err != nil {
		r.p.logger.Warn("batch failed",
			"account", r.cred.ID, "batch", index+1, "messages", len(msgs), "error", err)
		r.absorb(ctx, msgs, marked)
	}
}

func (r *run) extractBatch(ctx context.Context, msgs []model.Message, marked map[string]bool) error {
	res, err := r.p.extractor.ExtractBatch(ctx, msgs)
	if err != nil {
		return err
	}

	assigned := assign(msgs, res)
	for i, msg := range msgs {
		if a := assigned[i]; a.err != nil {
			r.p.logger.Warn("message extraction failed",
				"account", r.cred.ID, "message", msg.ID, "error", a.err)
			if err := r.mark(ctx, msg, 0, model.LedgerFailed, marked); err != nil {
				return err
			}
			r.messageDone(msg, 0)
			continue
		}

		if err := r.commit(ctx, msg, assigned[i].drafts, marked); err != nil {
			return err
		}
	}
	return nil
}

// commit stores msg's tasks and its ledger entry in one transaction, then
// reports them. On error nothing was written for msg.
func (r *run) commit(ctx context.Context, msg model.Message, drafts []ai.Draft, marked map[string]bool) error {
	tasks := make([]model.Task, len(drafts))
	for i, d := range drafts {
		tasks[i] = normalize(d, r.cred, msg)
	}

	stored, err := r.p.ledger.Commit(ctx, r.cred.ID, msg.ID, tasks)
	switch {
	case errors.Is(err, store.ErrAlreadyRecorded):
		r.p.logger.Warn("message recorded by another run, dropping its tasks",
			"account", r.cred.ID, "message", msg.ID)
		marked[msg.ID] = true
		r.advance(msg, 0)
		return nil
	case err != nil:
		return fmt.Errorf("saving tasks for message %s: %w", msg.ID, err)
	}
	marked[msg.ID] = true

	r.sum.Extracted += len(drafts)
	for _, task := range stored {
		r.sum.Created++
		r.sink.Emit(progress.Event{
			Kind:         progress.KindTaskCreated,
			Message:      fmt.Sprintf("Created task %q", task.Title),
			CreatedCount: r.sum.Created,
			TaskTitle:    task.Title,
		})
	}
	r.messageDone(msg, len(drafts))
	return nil
}

func (r *run) mark(
	ctx context.Context,
	msg model.Message,
	count int,
	status model.LedgerStatus,
	marked map[string]bool,
) error {
	if err := r.p.ledger.MarkProcessed(ctx, r.cred.ID, msg.ID, count, status); err != nil {
		return fmt.Errorf("recording message %s: %w", msg.ID, err)
	}
	marked[msg.ID] = true
	return nil
}

func (r *run) messageDone(msg model.Message, extracted int) {
	r.sum.Processed++
	r.advance(msg, extracted)
}

// advance moves progress past msg. It does not count msg as processed.
func (r *run) advance(msg model.Message, extracted int) {
	r.done++
	r.sink.Emit(progress.Event{
		Kind:      progress.KindMessage,
		Message:   fmt.Sprintf("Processed %q", subjectOrID(msg)),
		Current:   r.done,
		Total:     r.total,
		MessageID: msg.ID,
		Extracted: extracted,
	})
}

// absorb marks every message of a failed batch that has no entry yet as
// failed with zero tasks, so the next run does not pick it up again.
func (r *run) absorb(ctx context.Context, msgs []model.Message, marked map[string]bool) {
	if ctx.Err() != nil {
		// A cancelled run leaves the rest eligible for the next one.
		return
	}
	for _, msg := range msgs {
		if marked[msg.ID] {
			continue
		}
		if err := r.p.ledger.MarkProcessed(ctx, r.cred.ID, msg.ID, 0, model.LedgerFailed); err != nil {
			r.p.logger.Error("recording failed message",
				"account", r.cred.ID, "message", msg.ID, "error", err)
		}
		marked[msg.ID] = true
		r.messageDone(msg, 0)
	}
}

// assign attributes a batch result to its messages. Per-message results
// map one to one. A combined result carries no attribution, so its tasks
// are split into contiguous, evenly sized chunks in batch order, the
// first len(tasks)%len(msgs) messages taking one extra. This is an
// approximation: the model is not asked to say which email a task came
// from.
func assign(msgs []model.Message, res ai.BatchResult) []assignment {
	out := make([]assignment, len(msgs))

	if res.Fallback {
		byID := make(map[string]ai.MessageResult, len(res.Results))
		for _, mr := range res.Results {
			byID[mr.MessageID] = mr
		}
		for i, m := range msgs {
			mr, ok := byID[m.ID]
			if !ok {
				out[i].err = fmt.Errorf("no result for message %s", m.ID)
				continue
			}
			out[i] = assignment{drafts: mr.Result.Tasks, err: mr.Err}
		}
		return out
	}

	for i, chunk := range distribute(res.Tasks, len(msgs)) {
		out[i].drafts = chunk
	}
	return out
}

// distribute splits tasks into n contiguous chunks whose sizes differ by
// at most one.
func distribute(tasks []ai.Draft, n int) [][]ai.Draft {
	chunks := make([][]ai.Draft, n)
	if n == 0 {
		return chunks
	}

	base, extra := len(tasks)/n, len(tasks)%n
	start := 0
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = tasks[start : start+size]
		start += size
	}
	return chunks
}

// normalize converts a draft into a storable task.
func normalize(d ai.Draft, cred model.Credential, msg model.Message) model.Task {
	return model.Task{
		AccountID:   cred.ID,
		MessageID:   msg.ID,
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Priority:    model.ParsePriority(d.Priority),
		DueDate:     model.ParseDueDate(d.DueDate),
		Status:      model.TaskStatusOpen,
		Sender:      msg.From,
		Recipients:  msg.To,
		ReceivedAt:  msg.ReceivedAt,
	}
}

func subjectOrID(msg model.Message) string {
	if s := strings.TrimSpace(msg.Subject); s != "" {
		return s
	}
	return msg.ID
}
