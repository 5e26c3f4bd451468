package reflection

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"kait/internal/bank"
)

// ArchiveWorker runs the archive cycle on a cron schedule, grounded on
// spec.md's "archive worker" actor and SPEC_FULL's note that it's
// modelled as a scheduled method rather than a new supervised process.
type ArchiveWorker struct {
	bank    *bank.Bank
	ageSecs float64
	cronExp string

	sched *cron.Cron
}

// NewArchiveWorker constructs an ArchiveWorker. cronExpr follows
// robfig/cron's standard 5-field syntax (e.g. "0 4 * * *" for 4am daily).
func NewArchiveWorker(b *bank.Bank, archiveAge time.Duration, cronExpr string) *ArchiveWorker {
	return &ArchiveWorker{bank: b, ageSecs: archiveAge.Seconds(), cronExp: cronExpr}
}

// Start schedules RunCycle on the configured cron expression. Returns
// an error immediately if the expression doesn't parse.
func (w *ArchiveWorker) Start(ctx context.Context) error {
	w.sched = cron.New()
	_, err := w.sched.AddFunc(w.cronExp, func() {
		if err := w.RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("archive_cycle_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("parse archive cron expression %q: %w", w.cronExp, err)
	}
	w.sched.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight cycle to finish.
func (w *ArchiveWorker) Stop() {
	if w.sched != nil {
		<-w.sched.Stop().Done()
	}
}

// RunCycle finds every session whose interactions are all older than
// the configured age and all unarchived, groups them by calendar date
// (UTC, keyed on each session's first interaction), and produces
// exactly one Archive per date covering every session in that date's
// batch — matching the "one batch per calendar date" model of
// _examples/original_source/lib/sidekick/archive_worker.py's
// date_buckets, not one Archive per session.
func (w *ArchiveWorker) RunCycle(ctx context.Context) error {
	sessionIDs, err := w.bank.GetArchivableSessions(ctx, w.ageSecs)
	if err != nil {
		return fmt.Errorf("get archivable sessions: %w", err)
	}

	dateBuckets := map[string][]string{}
	var dateOrder []string
	for _, sessionID := range sessionIDs {
		notArchived := false
		interactions, err := w.bank.GetInteractionHistory(ctx, 0, sessionID, "", &notArchived)
		if err != nil {
			log.Error().Str("session_id", sessionID).Err(err).Msg("load_session_interactions_failed")
			continue
		}
		if len(interactions) == 0 {
			continue
		}
		// History is newest-first, so the session's first interaction is last.
		label := time.Unix(int64(interactions[len(interactions)-1].Timestamp), 0).UTC().Format("2006-01-02")
		if _, ok := dateBuckets[label]; !ok {
			dateOrder = append(dateOrder, label)
		}
		dateBuckets[label] = append(dateBuckets[label], sessionID)
	}

	for _, label := range dateOrder {
		if err := w.archiveBatch(ctx, label, dateBuckets[label]); err != nil {
			log.Error().Str("batch_label", label).Err(err).Msg("archive_batch_failed")
		}
	}
	return nil
}

// archiveBatch archives every session in sessionIDs (all sharing the
// same calendar date) as a single Archive record.
func (w *ArchiveWorker) archiveBatch(ctx context.Context, batchLabel string, sessionIDs []string) error {
	var ids []string
	var sentimentSum float64
	moodCounts := map[string]int{}

	for _, sessionID := range sessionIDs {
		notArchived := false
		interactions, err := w.bank.GetInteractionHistory(ctx, 0, sessionID, "", &notArchived)
		if err != nil {
			return fmt.Errorf("load session interactions: %w", err)
		}
		for _, in := range interactions {
			ids = append(ids, in.ID)
			sentimentSum += in.SentimentScore
			if in.Mood != "" {
				moodCounts[in.Mood]++
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	// Mark archived before recording the Archive itself: if this
	// process dies between the two writes, the worst outcome is an
	// Archive-less set of archived interactions (reconcilable), never
	// a second Archive double-covering the same ids (archive
	// exclusivity, spec §8 item 4).
	if _, err := w.bank.MarkInteractionsArchived(ctx, ids); err != nil {
		return fmt.Errorf("mark interactions archived: %w", err)
	}

	if _, err := w.bank.SaveArchive(ctx, bank.Archive{
		BatchLabel:     batchLabel,
		SessionIDs:     sessionIDs,
		InteractionIDs: ids,
		Summary:        fmt.Sprintf("%d interactions from %d sessions archived", len(ids), len(sessionIDs)),
		MoodSummary:    dominantMood(moodCounts),
		AvgSentiment:   sentimentSum / float64(len(ids)),
		MindSyncStatus: "pending",
	}); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

func dominantMood(counts map[string]int) string {
	best, bestCount := "", -1
	for mood, n := range counts {
		if n > bestCount {
			best, bestCount = mood, n
		}
	}
	return best
}
