package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
)

// Classifier is the seam for a higher-fidelity remote moderation backend.
// Implementations may block on the network; the pipeline bounds them with
// a timeout and falls back to the local keyword policy.
type Classifier interface {
	Classify(ctx context.Context, text, room string) (Result, error)
}

// Pipeline is the moderation entry point used by the message pipeline.
// It never fails: a classifier error or timeout degrades to the
// deterministic keyword policy rather than stalling the room.
type Pipeline struct {
	policy     *Policy
	classifier Classifier
	timeout    time.Duration
	log        *slog.Logger
}

func NewPipeline(policy *Policy, classifier Classifier, timeout time.Duration, log *slog.Logger) *Pipeline {
	return &Pipeline{policy: policy, classifier: classifier, timeout: timeout, log: log}
}

func (p *Pipeline) Moderate(ctx context.Context, text, room string) Result {
	if p.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		res, err := p.classifier.Classify(cctx, text, room)
		cancel()
		if err == nil {
			res.Method = MethodClassifier
			return p.annotate(text, res)
		}
		p.log.Warn("Classifier unavailable, falling back to keyword policy", "error", err)
	}
	return p.annotate(text, p.policy.Moderate(text, room))
}

// annotate records the detected language on non-allow verdicts, so
// review records tell moderators what they are about to read.
func (p *Pipeline) annotate(text string, res Result) Result {
	if res.Verdict == VerdictAllow {
		return res
	}
	info := whatlanggo.Detect(text)
	res.Language = info.Lang.Iso6391()
	return res
}
