package kafka

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/metrics"
)

// JobProducer enqueues rescoring jobs. A job is just the ASN, keyed by ASN so
// jobs for the same network land on the same partition and stay ordered.
type JobProducer struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewJobProducer(brokers []string, topic, clientID string, logger *zap.Logger) (*JobProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &JobProducer{client: client, topic: topic, logger: logger}, nil
}

// Enqueue fires an async rescore job for asn. Delivery failures are logged;
// a lost job is recovered by the next signal touching the same ASN.
func (p *JobProducer) Enqueue(ctx context.Context, asn int64, component string) {
	key := strconv.FormatInt(asn, 10)
	rec := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: []byte(key)}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("job enqueue failed", zap.Int64("asn", asn), zap.Error(err))
			return
		}
		metrics.JobsEnqueuedTotal.WithLabelValues(component).Inc()
	})
}

func (p *JobProducer) Close() {
	p.client.Flush(context.Background())
	p.client.Close()
}

// ScoreFunc recomputes one ASN's score.
type ScoreFunc func(ctx context.Context, asn int64) error

// JobConsumer drains the scoring-jobs topic and invokes the scorer once per
// record.
type JobConsumer struct {
	client *kgo.Client
	logger *zap.Logger
	score  ScoreFunc
	joined atomic.Bool
}

func NewJobConsumer(brokers []string, groupID, topic, clientID string, score ScoreFunc, logger *zap.Logger) (*JobConsumer, error) {
	jc := &JobConsumer{logger: logger, score: score}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ClientID(clientID),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			jc.joined.Store(true)
			logger.Info("job consumer: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			jc.joined.Store(false)
			logger.Info("job consumer: partitions revoked")
		}),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	jc.client = client
	return jc, nil
}

// Run polls until ctx is cancelled. A record that fails to score is still
// committed; the failure is logged and the ASN will be rescored on its next
// signal rather than wedging the partition.
func (jc *JobConsumer) Run(ctx context.Context) {
	for {
		fetches := jc.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				jc.logger.Error("job consumer: fetch error",
					zap.String("topic", e.Topic),
					zap.Int32("partition", e.Partition),
					zap.Error(e.Err),
				)
			}
		}

		fetches.EachRecord(func(r *kgo.Record) {
			asn, err := strconv.ParseInt(string(r.Value), 10, 64)
			if err != nil {
				jc.logger.Warn("job consumer: bad record", zap.ByteString("value", r.Value))
				metrics.JobsProcessedTotal.WithLabelValues("invalid").Inc()
				jc.client.MarkCommitRecords(r)
				return
			}
			if err := jc.score(ctx, asn); err != nil {
				jc.logger.Error("job consumer: scoring failed", zap.Int64("asn", asn), zap.Error(err))
				metrics.JobsProcessedTotal.WithLabelValues("error").Inc()
			} else {
				metrics.JobsProcessedTotal.WithLabelValues("ok").Inc()
			}
			jc.client.MarkCommitRecords(r)
		})

		if err := jc.client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
			jc.logger.Error("job consumer: commit offsets failed", zap.Error(err))
		}
	}
}

func (jc *JobConsumer) IsJoined() bool {
	return jc.joined.Load()
}

func (jc *JobConsumer) Close() {
	jc.client.Close()
}
