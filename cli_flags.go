// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
)

const (
	defaultOutputPath       = "profile.json"
	defaultProduct          = "tracefox"
	defaultSamplingInterval = time.Millisecond
)

// Help strings for command line arguments.
var (
	samplerHelp = "Path to the sampler event stream (JSON lines). Required."
	runtimeHelp = "Path to the managed-runtime event stream (JSON lines). " +
		"Optional for purely native captures."
	outputHelp = "Path of the profile document to write. " +
		"A .gz suffix enables gzip compression."
	productHelp  = "Product name shown by the profile viewer."
	intervalHelp = "Nominal sampling interval of the capture."
	pidHelp      = "Process ID of the profiled process."
	verboseHelp  = "Enable verbose logging and debugging capabilities."
	versionHelp  = "Show version."
)

type arguments struct {
	samplerPath string
	runtimePath string
	outputPath  string
	product     string
	interval    time.Duration
	pid         uint
	verbose     bool
	version     bool
}

func parseArgs() (*arguments, error) {
	args := &arguments{}
	fs := flag.NewFlagSet("tracefox", flag.ExitOnError)

	fs.StringVar(&args.samplerPath, "sampler", "", samplerHelp)
	fs.StringVar(&args.runtimePath, "runtime", "", runtimeHelp)
	fs.StringVar(&args.outputPath, "o", defaultOutputPath, outputHelp)
	fs.StringVar(&args.product, "product", defaultProduct, productHelp)
	fs.DurationVar(&args.interval, "interval", defaultSamplingInterval, intervalHelp)
	fs.UintVar(&args.pid, "pid", 0, pidHelp)
	fs.BoolVar(&args.verbose, "verbose", false, verboseHelp)
	fs.BoolVar(&args.version, "version", false, versionHelp)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TRACEFOX")); err != nil {
		return nil, err
	}
	if !args.version && args.samplerPath == "" {
		return nil, errors.New("missing required argument: -sampler")
	}
	return args, nil
}
