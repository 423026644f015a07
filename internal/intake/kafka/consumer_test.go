package kafkaintake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/oracle"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

type fakeClient struct {
	mu        sync.Mutex
	polls     []kgo.Fetches
	committed []*kgo.Record
	commitErr error
}

func (f *fakeClient) PollRecords(ctx context.Context, _ int) kgo.Fetches {
	f.mu.Lock()
	if len(f.polls) > 0 {
		next := f.polls[0]
		f.polls = f.polls[1:]
		f.mu.Unlock()
		return next
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kgo.Fetches{}
}

func (f *fakeClient) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, rs...)
	return f.commitErr
}

func (f *fakeClient) Close() {}

func (f *fakeClient) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type recordingRunner struct {
	mu   sync.Mutex
	runs [][]models.IdentityEvent
	err  error
}

func (r *recordingRunner) OnReceiveEvents(_ context.Context, events []models.IdentityEvent) (*oracle.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, events)
	return &oracle.Report{RunID: id.NewRunID()}, r.err
}

func (r *recordingRunner) snapshot() [][]models.IdentityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]models.IdentityEvent(nil), r.runs...)
}

func fetchOf(values ...string) kgo.Fetches {
	records := make([]*kgo.Record, 0, len(values))
	for i, v := range values {
		records = append(records, &kgo.Record{Topic: "identity.events", Offset: int64(i), Value: []byte(v)})
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "identity.events",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

const (
	eventA = `{"identityHash":"0x0100000000000000000000000000000000000000000000000000000000000000","sender":"0xa11ce","attestation":"aa5a315d61ae9438b18d"}`
	eventB = `{"identityHash":"0x0200000000000000000000000000000000000000000000000000000000000000","sender":"0xb0b","attestation":"bb5a315d61ae9438b18d"}`
)

func runUntil(t *testing.T, c *Consumer, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, done, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, &recordingRunner{})
	require.Error(t, err)

	_, err = New(&fakeClient{}, nil)
	require.Error(t, err)
}

func TestEachPollIsOneRun(t *testing.T) {
	client := &fakeClient{polls: []kgo.Fetches{fetchOf(eventA, eventB), fetchOf(eventB)}}
	runner := &recordingRunner{}
	c, err := New(client, runner)
	require.NoError(t, err)

	runUntil(t, c, func() bool { return client.committedCount() == 3 })

	runs := runner.snapshot()
	require.Len(t, runs, 2)
	require.Len(t, runs[0], 2)
	assert.Equal(t, id.Hash{1}, runs[0][0].IdentityHash)
	assert.Equal(t, id.AccountID("0xa11ce"), runs[0][0].Sender)
	assert.Equal(t, id.Hash{2}, runs[0][1].IdentityHash)
	require.Len(t, runs[1], 1)
}

func TestUndecodableRecordsAreSkippedAndCommitted(t *testing.T) {
	client := &fakeClient{polls: []kgo.Fetches{fetchOf("not json", eventA, `{"identityHash":"0x01","sender":"x"}`)}}
	runner := &recordingRunner{}
	c, err := New(client, runner)
	require.NoError(t, err)

	runUntil(t, c, func() bool { return client.committedCount() == 3 })

	runs := runner.snapshot()
	require.Len(t, runs, 1)
	require.Len(t, runs[0], 1)
	assert.Equal(t, id.Hash{1}, runs[0][0].IdentityHash)
}

func TestBatchWithoutEventsSkipsRun(t *testing.T) {
	client := &fakeClient{polls: []kgo.Fetches{fetchOf("{}")}}
	runner := &recordingRunner{}
	c, err := New(client, runner)
	require.NoError(t, err)

	runUntil(t, c, func() bool { return client.committedCount() == 1 })
	assert.Empty(t, runner.snapshot())
}

func TestFailedRunStillCommits(t *testing.T) {
	client := &fakeClient{polls: []kgo.Fetches{fetchOf(eventA)}}
	runner := &recordingRunner{err: errors.New("settle partition: rejected")}
	c, err := New(client, runner)
	require.NoError(t, err)

	runUntil(t, c, func() bool { return client.committedCount() == 1 })
	assert.Len(t, runner.snapshot(), 1)
}

func TestDecodeEvent(t *testing.T) {
	event, err := DecodeEvent([]byte(eventA))
	require.NoError(t, err)
	assert.Equal(t, id.EvidenceReference("aa5a315d61ae9438b18d"), event.Attestation)

	_, err = DecodeEvent([]byte(`{"sender":"0xa11ce"}`))
	assert.ErrorContains(t, err, "no identityHash")

	_, err = DecodeEvent([]byte(`{"identityHash":"0x0100000000000000000000000000000000000000000000000000000000000000"}`))
	assert.ErrorContains(t, err, "sender")
}
