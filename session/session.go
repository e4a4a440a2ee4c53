// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties one conversion run together: it owns the capture
// input streams, the decoder goroutines feeding the merge pipeline, and
// the resulting profile. A Session is explicitly constructed, run once and
// disposed; there is no process-wide current session.
package session // import "github.com/tracefox/tracefox/session"

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tracefox/tracefox/events"
	"github.com/tracefox/tracefox/fxprof"
	"github.com/tracefox/tracefox/ingest"
)

// sourceBufferSize is the channel capacity between a decoder goroutine and
// the merge loop. Decoding runs ahead of the merge by at most this many
// events per source.
const sourceBufferSize = 256

var (
	// ErrNoSamplerInput is returned when a session is created without a
	// sampler stream; the runtime stream alone carries no samples.
	ErrNoSamplerInput = errors.New("session requires a sampler event stream")
	// ErrAlreadyRun is returned when Run is called twice on one session.
	ErrAlreadyRun = errors.New("session has already run")
)

// Config describes one conversion run. Sampler is required, Runtime is
// optional (a purely native capture has no runtime stream). Readers that
// also implement io.Closer are closed by Session.Close.
type Config struct {
	Ingest  ingest.Config
	Sampler io.Reader
	Runtime io.Reader
}

// Session is a single create/run/dispose conversion lifecycle.
type Session struct {
	id       uuid.UUID
	cfg      Config
	pipeline *ingest.Pipeline
	ran      bool
	closed   bool
}

// New creates a session for the given configuration.
func New(cfg Config) (*Session, error) {
	if cfg.Sampler == nil {
		return nil, ErrNoSamplerInput
	}
	return &Session{
		id:       uuid.New(),
		cfg:      cfg,
		pipeline: ingest.New(cfg.Ingest),
	}, nil
}

// ID returns the unique session identifier, used to correlate log output
// of concurrent conversions.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run decodes both input streams, merges them through the pipeline and
// returns the frozen profile. Cancelling ctx yields a partial but
// internally consistent profile rather than an error; decode failures of
// either stream surface through Warnings.
func (s *Session) Run(ctx context.Context) (*fxprof.Profile, error) {
	if s.ran {
		return nil, ErrAlreadyRun
	}
	s.ran = true
	log.Debugf("session %s: starting conversion", s.id)

	g, gctx := errgroup.WithContext(ctx)

	sources := []events.Source{s.startDecoder(g, gctx, s.cfg.Sampler)}
	if s.cfg.Runtime != nil {
		sources = append(sources, s.startDecoder(g, gctx, s.cfg.Runtime))
	}

	// Source order defines the merge tie-break: sampler before runtime.
	profile, err := s.pipeline.Run(ctx, events.NewMerger(sources...))

	// Decoder goroutines report their failures through Source.Fail, which
	// the merger downgrades to warnings; the group itself never errors.
	_ = g.Wait()

	if err != nil {
		return nil, err
	}
	log.Debugf("session %s: conversion finished with %d warnings",
		s.id, len(s.pipeline.Warnings()))
	return profile, nil
}

// startDecoder spawns a goroutine decoding r into a channel-backed source.
func (s *Session) startDecoder(g *errgroup.Group, ctx context.Context,
	r io.Reader) *events.ChannelSource {
	src := events.NewChannelSource(sourceBufferSize)
	g.Go(func() error {
		defer close(src.Events())
		dec := events.NewDecoder(r)
		for {
			ev, err := dec.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				// Keep everything decoded so far; the merger records the
				// stream failure as a warning.
				src.Fail(err)
				return nil
			}
			select {
			case src.Events() <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	})
	return src
}

// Warnings returns the non-fatal conditions hit during the run.
func (s *Session) Warnings() []error {
	return s.pipeline.Warnings()
}

// Close disposes the session, closing any input reader that supports it.
// It is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, r := range []io.Reader{s.cfg.Sampler, s.cfg.Runtime} {
		if closer, ok := r.(io.Closer); ok {
			err = errors.Join(err, closer.Close())
		}
	}
	return err
}
