// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// tracefox converts a pair of capture event streams (OS sampler, managed
// runtime) into a Firefox Profiler processed-profile document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/tracefox/tracefox/fxprof"
	"github.com/tracefox/tracefox/ingest"
	"github.com/tracefox/tracefox/libtrace"
	"github.com/tracefox/tracefox/session"
)

// version is overridden at build time via -ldflags.
var version = "dev"

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if
	// ExitOnError is set.
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	args, err := parseArgs()
	if err != nil {
		log.Errorf("Failed to parse arguments: %v", err)
		return exitParseError
	}
	if args.version {
		fmt.Printf("tracefox %s\n", version)
		return exitSuccess
	}
	if args.verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	samplerFile, err := os.Open(args.samplerPath)
	if err != nil {
		log.Errorf("Failed to open sampler stream: %v", err)
		return exitFailure
	}
	var runtimeInput io.Reader
	if args.runtimePath != "" {
		runtimeFile, err := os.Open(args.runtimePath)
		if err != nil {
			log.Errorf("Failed to open runtime stream: %v", err)
			_ = samplerFile.Close()
			return exitFailure
		}
		runtimeInput = runtimeFile
	}

	sess, err := session.New(session.Config{
		Ingest: ingest.Config{
			Product:          args.product,
			SamplingInterval: args.interval,
			PID:              libtrace.PID(args.pid),
			Platform:         runtime.GOOS,
			OSCPU:            runtime.GOARCH,
			Arch:             runtime.GOARCH,
			LogicalCPUs:      runtime.NumCPU(),
			Progress: func(processed uint64, last libtrace.Timestamp) {
				log.Debugf("ingested %d events, capture time %.1fms",
					processed, last.Milliseconds())
			},
		},
		Sampler: samplerFile,
		Runtime: runtimeInput,
	})
	if err != nil {
		log.Errorf("Failed to create session: %v", err)
		return exitFailure
	}
	defer sess.Close()
	log.Infof("Converting capture (session %s)", sess.ID())

	profile, err := sess.Run(ctx)
	if err != nil {
		if errors.Is(err, fxprof.ErrInconsistent) {
			log.Errorf("Corrupt trace: %v", err)
		} else {
			log.Errorf("Conversion failed: %v", err)
		}
		return exitFailure
	}
	for _, warning := range sess.Warnings() {
		log.Warnf("Capture incomplete: %v", warning)
	}

	out, err := os.Create(args.outputPath)
	if err != nil {
		log.Errorf("Failed to create output file: %v", err)
		return exitFailure
	}
	compress := strings.HasSuffix(args.outputPath, ".gz")
	if err := fxprof.Write(out, profile, compress); err != nil {
		log.Errorf("Failed to write profile: %v", err)
		_ = out.Close()
		return exitFailure
	}
	if err := out.Close(); err != nil {
		log.Errorf("Failed to close output file: %v", err)
		return exitFailure
	}

	log.Infof("Wrote %s (%d threads, %d libs)",
		args.outputPath, len(profile.Threads), len(profile.Libs))
	return exitSuccess
}
