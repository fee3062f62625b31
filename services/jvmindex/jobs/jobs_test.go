// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := New(Config{Workers: workers})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestSubmitRunsToSuccess(t *testing.T) {
	s := newTestScheduler(t, 2)
	before := testutil.ToFloat64(jobsFinished.WithLabelValues("test-ok", "succeeded"))

	j, err := s.Submit("test-ok", "a.jar", func(ctx context.Context, j *Job) error {
		j.Step()
		j.Step()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, j.Wait(context.Background()))

	assert.Equal(t, StatusSucceeded, j.Status())
	info := j.Info()
	assert.Equal(t, "succeeded", info.Status)
	assert.Equal(t, 2, info.Progress)
	assert.NotNil(t, info.StartedAt)
	assert.NotNil(t, info.FinishedAt)
	assert.Equal(t, before+1, testutil.ToFloat64(jobsFinished.WithLabelValues("test-ok", "succeeded")))
}

func TestRecordedFailuresFailTheJob(t *testing.T) {
	s := newTestScheduler(t, 1)
	bad := errors.New("class a.B: malformed")

	j, err := s.Submit("test-fail", "a.jar", func(ctx context.Context, j *Job) error {
		j.Fail(bad)
		j.Fail(nil)
		j.Step()
		return nil
	})
	require.NoError(t, err)

	err = j.Wait(context.Background())
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, j.ID(), fe.JobID)
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, StatusFailed, j.Status())
	assert.Len(t, j.Failures(), 1)
	assert.Equal(t, []string{"class a.B: malformed"}, j.Info().Failures)
}

func TestReturnedErrorAndPanicFailTheJob(t *testing.T) {
	s := newTestScheduler(t, 1)
	boom := errors.New("store unavailable")

	j1, err := s.Submit("test", "x", func(context.Context, *Job) error { return boom })
	require.NoError(t, err)
	j2, err := s.Submit("test", "y", func(context.Context, *Job) error { panic("bad input") })
	require.NoError(t, err)

	assert.ErrorIs(t, j1.Wait(context.Background()), boom)
	assert.ErrorContains(t, j2.Wait(context.Background()), "bad input")
	assert.Equal(t, StatusFailed, j2.Status())

	// The scheduler keeps working after a panic.
	j3, err := s.Submit("test", "z", func(context.Context, *Job) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, j3.Wait(context.Background()))
}

func TestCancelRunningJob(t *testing.T) {
	s := newTestScheduler(t, 1)
	started := make(chan struct{})

	j, err := s.Submit("test", "slow", func(ctx context.Context, j *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started
	j.Cancel()

	assert.ErrorIs(t, j.Wait(context.Background()), ErrCancelled)
	assert.Equal(t, StatusCancelled, j.Status())
}

func TestCancelPendingJobNeverRuns(t *testing.T) {
	s := newTestScheduler(t, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Bool

	blocker, err := s.Submit("test", "blocker", func(ctx context.Context, j *Job) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started
	waiting, err := s.Submit("test", "waiting", func(ctx context.Context, j *Job) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	waiting.Cancel()
	assert.ErrorIs(t, waiting.Wait(context.Background()), ErrCancelled)
	close(release)
	require.NoError(t, blocker.Wait(context.Background()))
	assert.False(t, ran.Load())
	assert.Nil(t, waiting.Info().StartedAt)
}

func TestAwaitOutstandingIsASnapshotBarrier(t *testing.T) {
	s := newTestScheduler(t, 4)
	var finished atomic.Int32

	for i := 0; i < 6; i++ {
		_, err := s.Submit("test", "a", func(ctx context.Context, j *Job) error {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	_, err := s.Submit("test", "fails", func(context.Context, *Job) error {
		return errors.New("nope")
	})
	require.NoError(t, err)

	require.NoError(t, s.AwaitOutstanding(context.Background()))
	assert.Equal(t, int32(6), finished.Load())
	assert.Zero(t, s.Outstanding())

	// A later barrier covers a job that is still running.
	release := make(chan struct{})
	late, err := s.Submit("test", "late", func(ctx context.Context, j *Job) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.AwaitOutstanding(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, late.Wait(context.Background()))
	require.NoError(t, s.AwaitOutstanding(context.Background()))
}

func TestWorkersBoundConcurrency(t *testing.T) {
	s := newTestScheduler(t, 2)
	var running, peak atomic.Int32

	for i := 0; i < 8; i++ {
		_, err := s.Submit("test", "a", func(ctx context.Context, j *Job) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.AwaitOutstanding(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestListAndRetention(t *testing.T) {
	s := New(Config{Workers: 1, Retain: 2})
	defer s.Close(context.Background())

	var ids []string
	for _, target := range []string{"a", "b", "c"} {
		j, err := s.Submit("test", target, func(context.Context, *Job) error { return nil })
		require.NoError(t, err)
		require.NoError(t, j.Wait(context.Background()))
		ids = append(ids, j.ID())
	}
	require.NoError(t, s.AwaitOutstanding(context.Background()))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Target)
	assert.Equal(t, "c", list[1].Target)

	_, ok := s.Get(ids[0])
	assert.False(t, ok)
	j, ok := s.Get(ids[2])
	require.True(t, ok)
	assert.Equal(t, "c", j.Target())
}

func TestSubmitValidationAndClose(t *testing.T) {
	s := New(Config{Workers: 1})
	_, err := s.Submit("test", "a", nil)
	assert.ErrorIs(t, err, ErrNilFunc)

	started := make(chan struct{})
	j, err := s.Submit("test", "a", func(ctx context.Context, j *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StatusCancelled, j.Status())
	_, err = s.Submit("test", "b", func(context.Context, *Job) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
