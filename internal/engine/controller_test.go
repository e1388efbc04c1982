package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/remote"
)

func TestRunBatched_CompletesWithMonotonicProgress(t *testing.T) {
	backend := &fakeBackend{}
	obs := &countingObserver{}
	rec := &recordedOps{}
	ctrl := engine.NewController(backend, engine.DefaultOptions(), engine.WithObserver(obs), engine.WithRecorder(rec))

	var log snapshotLog
	sum, err := ctrl.RunBatched(context.Background(), makeTargets(450), engine.RunOptions{OnProgress: log.add})
	require.NoError(t, err)
	require.NotNil(t, sum)

	assert.False(t, sum.Cancelled)
	assert.Equal(t, 450, sum.SuccessfulCount)
	assert.Equal(t, 0, sum.FailedCount)
	assert.Equal(t, 450, sum.TotalProcessed)
	assert.Equal(t, 450, sum.Total)
	require.Len(t, sum.Outcomes, 450)
	assert.Equal(t, "block-000", sum.Outcomes[0].Target)
	assert.Equal(t, "block-449", sum.Outcomes[449].Target)
	assert.Equal(t, []string{"kw-block-201"}, sum.Outcomes[201].Keywords)

	assert.Equal(t, []int{200, 200, 50}, []int{
		len(backend.keywordChunks[0]), len(backend.keywordChunks[1]), len(backend.keywordChunks[2]),
	})

	snaps := log.all()
	require.Len(t, snaps, 3)
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].Processed, snaps[i-1].Processed)
	}
	last := snaps[len(snaps)-1]
	assert.Equal(t, 450, last.Processed)
	assert.Equal(t, 450, last.Total)
	assert.Equal(t, time.Duration(0), last.ETA)
	assert.Equal(t, batch.SourceReal, last.Source)

	op, ok := ctrl.Operation(sum.OperationID)
	require.True(t, ok)
	assert.Equal(t, engine.StateCompleted, op.State)
	assert.Equal(t, 450, op.Progress.Processed)

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 3, obs.chunks)
	assert.Equal(t, 1, obs.finished[engine.StateCompleted])
	require.Len(t, rec.ops, 1)
	assert.Equal(t, engine.StateCompleted, rec.ops[0].State)
}

func TestRunBatched_CancelBeforeSecondChunk(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := engine.NewController(backend, engine.DefaultOptions())
	tok := batch.NewToken(context.Background())

	var log snapshotLog
	sum, err := ctrl.RunBatched(context.Background(), makeTargets(450), engine.RunOptions{
		Token: tok,
		OnProgress: func(s batch.Snapshot) {
			log.add(s)
			if s.Processed == 200 {
				tok.Cancel()
			}
		},
	})
	require.NoError(t, err, "cancellation resolves, it does not fail")
	require.NotNil(t, sum)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 200, sum.TotalProcessed)
	assert.Equal(t, 200, sum.SuccessfulCount)
	assert.Len(t, sum.Outcomes, 200)
	assert.Equal(t, 1, backend.chunkCount(), "no chunk is submitted after cancellation")

	snaps := log.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, 200, snaps[0].Processed)
	assert.Equal(t, 450, snaps[0].Total)

	op, ok := ctrl.Operation(sum.OperationID)
	require.True(t, ok)
	assert.Equal(t, engine.StateCancelled, op.State)

	assert.NotPanics(t, tok.Cancel, "cancel after termination is a no-op")
	assert.False(t, ctrl.Cancel(sum.OperationID))
}

func TestRunBatched_ResultArrivingAfterCancelIsDiscarded(t *testing.T) {
	tok := batch.NewToken(context.Background())
	backend := &fakeBackend{
		onKeywords: func(_ context.Context, idx int, ids []string) (*remote.KeywordResponse, error) {
			if idx == 1 {
				// The request was already sent; the service still answers.
				tok.Cancel()
			}
			return okKeywords(ids), nil
		},
	}
	ctrl := engine.NewController(backend, engine.DefaultOptions())

	var log snapshotLog
	sum, err := ctrl.RunBatched(context.Background(), makeTargets(450), engine.RunOptions{Token: tok, OnProgress: log.add})
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 200, sum.TotalProcessed)
	assert.Equal(t, 2, backend.chunkCount())
	assert.Equal(t, 1, log.len(), "the discarded chunk emits no progress")
}

func TestRunBatched_InFlightAbortIsCancellation(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := engine.NewController(backend, engine.DefaultOptions())

	var opID string
	backend.onKeywords = func(ctx context.Context, idx int, ids []string) (*remote.KeywordResponse, error) {
		if idx == 0 {
			return okKeywords(ids), nil
		}
		assert.True(t, ctrl.Cancel(opID))
		<-ctx.Done()
		return nil, errors.Join(remote.ErrCancelled, ctx.Err())
	}

	sum, err := ctrl.RunBatched(context.Background(), makeTargets(450), engine.RunOptions{
		OnStart: func(id string) { opID = id },
	})
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 200, sum.TotalProcessed)
}

func TestRunBatched_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{
		onKeywords: func(_ context.Context, idx int, ids []string) (*remote.KeywordResponse, error) {
			if idx == 0 {
				cancel()
			}
			return okKeywords(ids), nil
		},
	}
	ctrl := engine.NewController(backend, engine.DefaultOptions())

	sum, err := ctrl.RunBatched(ctx, makeTargets(450), engine.RunOptions{})
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 0, sum.TotalProcessed, "the first chunk resolved after the abort")
}

func TestRunBatched_TransportFailureKeepsPartialProgressObservable(t *testing.T) {
	boom := errors.New("connection reset by peer")
	backend := &fakeBackend{
		onKeywords: func(_ context.Context, idx int, ids []string) (*remote.KeywordResponse, error) {
			if idx == 1 {
				return nil, boom
			}
			return okKeywords(ids), nil
		},
	}
	rec := &recordedOps{}
	ctrl := engine.NewController(backend, engine.DefaultOptions(), engine.WithRecorder(rec))

	var opID string
	var log snapshotLog
	sum, err := ctrl.RunBatched(context.Background(), makeTargets(450), engine.RunOptions{
		OnProgress: log.add,
		OnStart:    func(id string) { opID = id },
	})
	require.Error(t, err)
	assert.Nil(t, sum)
	assert.ErrorIs(t, err, boom)
	assert.False(t, engine.IsCancellation(err))

	var cte *engine.ChunkTransportError
	require.ErrorAs(t, err, &cte)
	assert.Equal(t, 1, cte.Chunk)
	assert.Equal(t, 200, cte.Size)
	assert.Equal(t, 200, cte.Processed)

	assert.Equal(t, 2, backend.chunkCount(), "no retry and no further chunks")
	require.Equal(t, 1, log.len())

	op, ok := ctrl.Operation(opID)
	require.True(t, ok)
	assert.Equal(t, engine.StateFailed, op.State)
	assert.Equal(t, 200, op.Progress.Processed)
	assert.Contains(t, op.Error, "connection reset")
	require.Len(t, rec.ops, 1)
	assert.Equal(t, engine.StateFailed, rec.ops[0].State)
}

func TestRunBatched_PerItemFailures(t *testing.T) {
	backend := &fakeBackend{
		onKeywords: func(_ context.Context, _ int, ids []string) (*remote.KeywordResponse, error) {
			return &remote.KeywordResponse{Results: []remote.KeywordResult{
				{BlockID: ids[0], Keywords: []string{"a"}},
				{BlockID: ids[1], Error: "block is empty"},
			}}, nil
		},
	}
	ctrl := engine.NewController(backend, engine.DefaultOptions())

	sum, err := ctrl.RunBatched(context.Background(), makeTargets(3), engine.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.SuccessfulCount)
	assert.Equal(t, 2, sum.FailedCount)
	assert.Equal(t, 3, sum.TotalProcessed)
	assert.Equal(t, "block is empty", sum.Outcomes[1].Error)
	assert.Equal(t, "no result returned", sum.Outcomes[2].Error)
}

func TestRunBatched_InvalidInput(t *testing.T) {
	ctrl := engine.NewController(&fakeBackend{}, engine.DefaultOptions())

	_, err := ctrl.RunBatched(context.Background(), nil, engine.RunOptions{})
	assert.ErrorIs(t, err, engine.ErrEmptyTargets)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = ctrl.RunBatched(context.Background(), makeTargets(2), engine.RunOptions{BatchSize: 5000})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.ErrorIs(t, err, batch.ErrInvalidBatchSize)

	_, err = ctrl.RunCompaction(context.Background(), nil, "", engine.RunOptions{})
	assert.ErrorIs(t, err, engine.ErrEmptyTargets)

	assert.Empty(t, ctrl.Operations())
}

func TestRunBatched_ReusedTokenRejected(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := engine.NewController(backend, engine.DefaultOptions())
	tok := batch.NewToken(context.Background())

	sum, err := ctrl.RunBatched(context.Background(), makeTargets(3), engine.RunOptions{Token: tok})
	require.NoError(t, err)
	assert.False(t, sum.Cancelled)
	assert.Equal(t, 3, sum.TotalProcessed)

	_, err = ctrl.RunBatched(context.Background(), makeTargets(3), engine.RunOptions{Token: tok})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.Equal(t, 1, backend.chunkCount())
	assert.Len(t, ctrl.Operations(), 1)
}

func TestRunBatched_AtMostOnePerSuggestion(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	backend := &fakeBackend{
		onKeywords: func(_ context.Context, idx int, ids []string) (*remote.KeywordResponse, error) {
			if idx == 0 {
				close(entered)
				<-unblock
			}
			return okKeywords(ids), nil
		},
	}
	ctrl := engine.NewController(backend, engine.DefaultOptions())

	type result struct {
		sum *engine.Summary
		err error
	}
	first := make(chan result, 1)
	go func() {
		sum, err := ctrl.RunBatched(context.Background(), makeTargets(10), engine.RunOptions{SuggestionID: "sug-1"})
		first <- result{sum, err}
	}()

	<-entered
	assert.True(t, ctrl.IsExecuting("sug-1"))

	_, err := ctrl.RunBatched(context.Background(), makeTargets(10), engine.RunOptions{SuggestionID: "sug-1"})
	require.ErrorIs(t, err, engine.ErrAlreadyExecuting)

	_, err = ctrl.RunCompaction(context.Background(), makeTargets(2), "", engine.RunOptions{SuggestionID: "sug-1"})
	require.ErrorIs(t, err, engine.ErrAlreadyExecuting)

	close(unblock)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, 10, res.sum.SuccessfulCount, "the refused run did not disturb the first")
	assert.False(t, ctrl.IsExecuting("sug-1"))

	_, err = ctrl.RunBatched(context.Background(), makeTargets(10), engine.RunOptions{SuggestionID: "sug-1"})
	require.NoError(t, err, "the id is free again after the run")
}

func TestController_ExecutingIDReleasedOnEveryExit(t *testing.T) {
	tests := []struct {
		name string
		hook func(ctx context.Context, idx int, ids []string) (*remote.KeywordResponse, error)
	}{
		{
			name: "failure",
			hook: func(context.Context, int, []string) (*remote.KeywordResponse, error) {
				return nil, errors.New("503")
			},
		},
		{
			name: "cancellation",
			hook: func(ctx context.Context, _ int, _ []string) (*remote.KeywordResponse, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := engine.NewController(&fakeBackend{onKeywords: tt.hook}, engine.DefaultOptions())
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, _ = ctrl.RunBatched(ctx, makeTargets(5), engine.RunOptions{SuggestionID: "sug-9"})
			assert.False(t, ctrl.IsExecuting("sug-9"))
		})
	}
}

func TestCancel_UnknownAndIdempotent(t *testing.T) {
	ctrl := engine.NewController(&fakeBackend{}, engine.DefaultOptions())
	assert.False(t, ctrl.Cancel("nope"))
	assert.False(t, ctrl.CancelSuggestion("nope"))

	var token *batch.Token
	assert.NotPanics(t, token.Cancel)
}

func TestRunCompaction_SimulatedProgressThenRealCompletion(t *testing.T) {
	var log snapshotLog
	backend := &fakeBackend{}
	backend.onCompact = func(ctx context.Context, req remote.CompactionRequest) (*remote.CompactionResponse, error) {
		deadline := time.After(5 * time.Second)
		for log.len() < 3 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-deadline:
				return nil, errors.New("simulator never ticked")
			case <-time.After(time.Millisecond):
			}
		}
		return &remote.CompactionResponse{Summary: "compacted", Metrics: remote.CompactionMetrics{BlocksProcessed: len(req.BlockIDs)}}, nil
	}
	ctrl := engine.NewController(backend, fastOptions())

	targets := makeTargets(5)
	sum, err := ctrl.RunCompaction(context.Background(), targets, "keep decisions", engine.RunOptions{
		SuggestionID: "sug-c",
		OnProgress:   log.add,
	})
	require.NoError(t, err)

	require.Len(t, backend.compactions, 1)
	assert.Equal(t, 4, backend.compactions[0].MaxConcurrent)
	assert.Equal(t, "keep decisions", backend.compactions[0].Instructions)

	snaps := log.all()
	require.GreaterOrEqual(t, len(snaps), 4)
	for i, s := range snaps[:len(snaps)-1] {
		assert.Equal(t, batch.SourceSimulated, s.Source, "snapshot %d", i)
		assert.Less(t, s.Processed, s.Total, "simulated progress never reaches total")
		if i > 0 {
			assert.GreaterOrEqual(t, s.Processed, snaps[i-1].Processed)
		}
	}
	final := snaps[len(snaps)-1]
	assert.Equal(t, batch.SourceReal, final.Source)
	assert.Equal(t, 5, final.Processed)
	assert.Equal(t, time.Duration(0), final.ETA)

	assert.Equal(t, 5, sum.SuccessfulCount)
	assert.Equal(t, "compacted", sum.Result.Summary)
	assert.False(t, ctrl.IsExecuting("sug-c"))

	count := log.len()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, count, log.len(), "the ticker is stopped once the call resolves")
}

func TestRunCompaction_CancelStopsTicker(t *testing.T) {
	var log snapshotLog
	backend := &fakeBackend{
		onCompact: func(ctx context.Context, _ remote.CompactionRequest) (*remote.CompactionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	ctrl := engine.NewController(backend, fastOptions())

	go func() {
		assert.Eventually(t, func() bool { return log.len() >= 2 }, 5*time.Second, time.Millisecond)
		ctrl.CancelSuggestion("sug-c")
	}()

	sum, err := ctrl.RunCompaction(context.Background(), makeTargets(5), "", engine.RunOptions{
		SuggestionID: "sug-c",
		OnProgress:   log.add,
	})
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 0, sum.TotalProcessed)
	assert.Nil(t, sum.Result)

	count := log.len()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, count, log.len(), "no progress after cancellation")
	for _, s := range log.all() {
		assert.Equal(t, batch.SourceSimulated, s.Source)
	}
}

func TestRunCompaction_FailureAndFailedBlocks(t *testing.T) {
	t.Run("transport failure", func(t *testing.T) {
		ctrl := engine.NewController(&fakeBackend{
			onCompact: func(context.Context, remote.CompactionRequest) (*remote.CompactionResponse, error) {
				return nil, &remote.StatusError{Method: "POST", Path: "/v1/blocks/compact", StatusCode: 500}
			},
		}, fastOptions())

		sum, err := ctrl.RunCompaction(context.Background(), makeTargets(3), "", engine.RunOptions{})
		require.Error(t, err)
		assert.Nil(t, sum)

		var se *remote.StatusError
		require.ErrorAs(t, err, &se)
		var cte *engine.ChunkTransportError
		require.ErrorAs(t, err, &cte)
		assert.Equal(t, 3, cte.Size)
	})

	t.Run("per block failures", func(t *testing.T) {
		ctrl := engine.NewController(&fakeBackend{
			onCompact: func(_ context.Context, req remote.CompactionRequest) (*remote.CompactionResponse, error) {
				return &remote.CompactionResponse{FailedBlocks: map[string]string{req.BlockIDs[1]: "too short"}}, nil
			},
		}, fastOptions())

		sum, err := ctrl.RunCompaction(context.Background(), makeTargets(3), "", engine.RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.SuccessfulCount)
		assert.Equal(t, 1, sum.FailedCount)
		assert.Equal(t, "too short", sum.Outcomes[1].Error)
	})
}

func TestRunApply(t *testing.T) {
	backend := &fakeBackend{}
	ctrl := engine.NewController(backend, fastOptions())

	sum, err := ctrl.RunApply(context.Background(), engine.KindArchive, "sug-a", makeTargets(2), engine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, engine.KindArchive, sum.Kind)
	assert.Equal(t, "sug-a", sum.SuggestionID)
	assert.Equal(t, []string{"sug-a:archive"}, backend.applies)

	_, err = ctrl.RunApply(context.Background(), engine.KindKeywords, "sug-a", makeTargets(2), engine.RunOptions{})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.ErrorIs(t, err, engine.ErrUnsupportedType)

	_, err = ctrl.RunApply(context.Background(), engine.KindMerge, "", makeTargets(2), engine.RunOptions{})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestOperations_OrderedAndBounded(t *testing.T) {
	ctrl := engine.NewController(&fakeBackend{}, engine.DefaultOptions())

	var ids []string
	for range 70 {
		sum, err := ctrl.RunBatched(context.Background(), makeTargets(1), engine.RunOptions{})
		require.NoError(t, err)
		ids = append(ids, sum.OperationID)
	}

	ops := ctrl.Operations()
	require.Len(t, ops, 64)
	assert.Equal(t, ids[6], ops[0].ID)
	assert.Equal(t, ids[69], ops[63].ID)
	for _, op := range ops {
		assert.Equal(t, engine.StateCompleted, op.State)
	}
}
