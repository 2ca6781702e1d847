package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/metrics"
	"github.com/example/face-verify/internal/objectstore"
	"github.com/example/face-verify/internal/record"
)

// MaxImageBytes bounds a single submitted image payload.
const MaxImageBytes = 8 << 20

const cacheTTL = 5 * time.Minute

// Image is one submitted payload.
type Image struct {
	Data        []byte
	ContentType string
}

// Request is an accepted verification submission. Either two images, or one
// image plus the key of a previously stored reference image.
type Request struct {
	SubjectID    string
	Images       []Image
	ReferenceKey string
}

// InputError marks a malformed or oversized submission, rejected before any
// side effect.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// RecordStore defines the persistence operations needed by the orchestrator.
type RecordStore interface {
	Create(ctx context.Context, rec *record.VerificationRecord) error
	Resolve(ctx context.Context, id string, outcome record.Outcome) (*record.VerificationRecord, error)
	GetForSubject(ctx context.Context, id, subjectID string) (*record.VerificationRecord, error)
}

// Orchestrator sequences storage, the comparator call, the threshold decision
// and persistence for each verification request. Once a pending record exists
// the pipeline always drives it to a terminal status, even if the caller has
// gone away.
type Orchestrator struct {
	records   RecordStore
	images    objectstore.Store
	matcher   facematch.Client
	cache     Cache
	sink      metrics.Sink
	logger    *zap.Logger
	threshold float64
}

// NewOrchestrator constructs the pipeline.
func NewOrchestrator(records RecordStore, images objectstore.Store, matcher facematch.Client,
	cache Cache, sink metrics.Sink, threshold float64, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		records:   records,
		images:    images,
		matcher:   matcher,
		cache:     cache,
		sink:      sink,
		logger:    logger.Named("verify"),
		threshold: threshold,
	}
}

type cachedRecord struct {
	ID             string     `json:"id"`
	SubjectID      string     `json:"subject_id"`
	ImageKeyA      string     `json:"image_key_a"`
	ImageKeyB      string     `json:"image_key_b"`
	Status         string     `json:"status"`
	Score          float64    `json:"score"`
	Threshold      float64    `json:"threshold"`
	Pass           bool       `json:"pass"`
	MatchLatencyMs int64      `json:"match_latency_ms"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Submit runs the full pipeline and returns the terminal record. The record is
// durably resolved before this returns; the caller never observes a pending
// status and never needs a second call to learn the outcome.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*record.VerificationRecord, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	candidate, counterpart, err := o.resolveImages(ctx, req)
	if err != nil {
		return nil, err
	}

	storedA, err := o.images.Put(ctx, candidate.Data, candidate.ContentType)
	if err != nil {
		return nil, err
	}
	storedB, err := o.images.Put(ctx, counterpart.Data, counterpart.ContentType)
	if err != nil {
		return nil, err
	}

	rec := &record.VerificationRecord{
		SubjectID: req.SubjectID,
		ImageKeyA: storedA.Key,
		ImageKeyB: storedB.Key,
	}
	if err := o.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	// A pending record now exists. Complete it on a context detached from the
	// caller so a disconnect cannot leave the record dangling.
	ctx = context.WithoutCancel(ctx)

	opLogger := logging.WithOperation(o.logger, "verify.submit", rec.ID)
	outcome := o.match(ctx, opLogger, candidate.Data, counterpart.Data)

	resolved, err := o.records.Resolve(ctx, rec.ID, outcome)
	if err != nil {
		if errors.Is(err, record.ErrConflict) {
			opLogger.Error("conflicting resolution for record", zap.Error(err))
		}
		return nil, err
	}

	o.sink.Inc("verification.outcome", metrics.Tag{Key: "status", Value: string(resolved.Status)})
	o.sink.Timing("verification.latency_ms", time.Since(start))

	o.cacheResult(ctx, opLogger, resolved)

	return resolved, nil
}

func (o *Orchestrator) match(ctx context.Context, opLogger *zap.Logger, imageA, imageB []byte) record.Outcome {
	result, err := o.matcher.Compare(ctx, imageA, imageB, o.threshold)
	if err == nil {
		return record.CompletedOutcome(result.Score, result.Threshold, result.Pass, result.Latency)
	}

	var matchErr *facematch.MatchError
	if errors.As(err, &matchErr) {
		switch matchErr.Kind {
		case facematch.KindTimeout:
			opLogger.Warn("comparator timed out", zap.Error(err))
			return record.TimedOutOutcome("facematch timeout")
		case facematch.KindInvalidInput:
			opLogger.Warn("comparator rejected input", zap.Error(err))
			return record.FailedOutcome("facematch rejected input")
		}
	}
	opLogger.Warn("comparator unavailable", zap.Error(err))
	return record.FailedOutcome("facematch unavailable")
}

// GetResult retrieves a terminal record, preferring the cache.
func (o *Orchestrator) GetResult(ctx context.Context, subjectID, recordID string) (*record.VerificationRecord, error) {
	cacheKey := cacheKeyFor(recordID)
	if cached, err := o.cache.Get(ctx, cacheKey); err == nil {
		var payload cachedRecord
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(o.logger, "verify.get_result", recordID).Warn("failed to decode cached record", zap.Error(err))
		} else if payload.SubjectID == subjectID {
			return &record.VerificationRecord{
				ID:             payload.ID,
				SubjectID:      payload.SubjectID,
				ImageKeyA:      payload.ImageKeyA,
				ImageKeyB:      payload.ImageKeyB,
				Status:         record.Status(payload.Status),
				Score:          payload.Score,
				Threshold:      payload.Threshold,
				Pass:           payload.Pass,
				MatchLatencyMs: payload.MatchLatencyMs,
				FailureReason:  payload.FailureReason,
				CreatedAt:      payload.CreatedAt,
				ResolvedAt:     payload.ResolvedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(o.logger, "verify.get_result", recordID).Warn("failed to read cache", zap.Error(err))
	}

	return o.records.GetForSubject(ctx, recordID, subjectID)
}

func (o *Orchestrator) resolveImages(ctx context.Context, req Request) (Image, Image, error) {
	candidate := req.Images[0]
	if len(req.Images) == 2 {
		return candidate, req.Images[1], nil
	}

	data, err := o.images.Get(ctx, req.ReferenceKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return Image{}, Image{}, &InputError{Reason: fmt.Sprintf("unknown reference key %s", req.ReferenceKey)}
		}
		return Image{}, Image{}, err
	}
	return candidate, Image{Data: data, ContentType: candidate.ContentType}, nil
}

func (o *Orchestrator) cacheResult(ctx context.Context, opLogger *zap.Logger, rec *record.VerificationRecord) {
	payload := cachedRecord{
		ID:             rec.ID,
		SubjectID:      rec.SubjectID,
		ImageKeyA:      rec.ImageKeyA,
		ImageKeyB:      rec.ImageKeyB,
		Status:         string(rec.Status),
		Score:          rec.Score,
		Threshold:      rec.Threshold,
		Pass:           rec.Pass,
		MatchLatencyMs: rec.MatchLatencyMs,
		FailureReason:  rec.FailureReason,
		CreatedAt:      rec.CreatedAt,
		ResolvedAt:     rec.ResolvedAt,
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		opLogger.Warn("failed to serialize record for cache", zap.Error(err))
		return
	}
	// The record store is the source of truth; a cache failure only costs a
	// lookup later.
	if err := o.cache.Set(ctx, cacheKeyFor(rec.ID), string(serialized), cacheTTL); err != nil {
		opLogger.Warn("failed to cache terminal record", zap.Error(err))
	}
}

func cacheKeyFor(recordID string) string {
	return "verification:" + recordID
}

func validate(req Request) error {
	if req.SubjectID == "" {
		return &InputError{Reason: "missing subject"}
	}
	switch len(req.Images) {
	case 1:
		if req.ReferenceKey == "" {
			return &InputError{Reason: "a second image or a reference key is required"}
		}
	case 2:
		if req.ReferenceKey != "" {
			return &InputError{Reason: "reference key cannot be combined with two images"}
		}
	default:
		return &InputError{Reason: "one or two images are required"}
	}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			return &InputError{Reason: "empty image payload"}
		}
		if len(img.Data) > MaxImageBytes {
			return &InputError{Reason: "image exceeds size limit"}
		}
		if !allowedContentType(img.ContentType) {
			return &InputError{Reason: fmt.Sprintf("unsupported content type %s", img.ContentType)}
		}
	}
	return nil
}

func allowedContentType(ct string) bool {
	switch ct {
	case "image/jpeg", "image/png":
		return true
	}
	return false
}
