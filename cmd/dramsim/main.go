// Command dramsim drives the memory-timing core against a toy trace
// format: one line address per line, optionally prefixed with "W " for
// a write (reads are the default). It exists to exercise the core end
// to end; parsing real traces and feeding a cache hierarchy are left to
// a fuller driver.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramctl"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramlog"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: off, error, warn, info, debug, trace")
	logFile := flag.String("log-file", "", "log file path (default stderr)")
	bankLog := flag.Bool("bank-log", false, "enable bank subsystem logging")
	rankLog := flag.Bool("rank-log", false, "enable rank subsystem logging")
	subchannelLog := flag.Bool("subchannel-log", false, "enable subchannel subsystem logging")
	controllerLog := flag.Bool("controller-log", false, "enable controller subsystem logging")
	mitigationLog := flag.Bool("mitigation-log", false, "enable mitigation subsystem logging")

	tracePath := flag.String("trace", "", "path to a toy address trace (one lineaddr per line)")
	maxCycles := flag.Uint64("max-cycles", 1_000_000, "maximum host cycles to run")

	rfmMode := flag.Int("rfm-mode", 0, "RFM mode: 0=off, 1=same-bank, 2=all-bank")
	mirzaMode := flag.Bool("mirza", false, "enable MIRZA mitigation")
	moatMode := flag.Bool("moat", false, "enable MOAT mitigation")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] -trace <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := dramlog.Initialize(dramlog.FromString(*logLevel), *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer dramlog.Close()

	dramlog.SetBankLogging(*bankLog)
	dramlog.SetRankLogging(*rankLog)
	dramlog.SetSubchannelLogging(*subchannelLog)
	dramlog.SetControllerLogging(*controllerLog)
	dramlog.SetMitigationLogging(*mitigationLog)

	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "missing required -trace flag")
		flag.Usage()
		os.Exit(1)
	}

	cfg := dramconfig.Default()
	switch *rfmMode {
	case 0:
		cfg.RFMMode = dramconfig.RFMOff
	case 1:
		cfg.RFMMode = dramconfig.RFMSameBank
	case 2:
		cfg.RFMMode = dramconfig.RFMAllBank
	default:
		dramlog.Fatal("invalid -rfm-mode %d", *rfmMode)
	}
	cfg.MirzaMode = *mirzaMode
	cfg.MoatMode = *moatMode

	f, err := os.Open(*tracePath)
	if err != nil {
		dramlog.Fatal("failed to open trace file: %v", err)
	}
	defer f.Close()

	requests, err := readTrace(f)
	if err != nil {
		dramlog.Fatal("failed to read trace: %v", err)
	}

	completed := 0
	ctrl, err := dramctl.New(cfg, func(lineaddr uint64) {
		completed++
	})
	if err != nil {
		dramlog.Fatal("failed to construct controller: %v", err)
	}

	idx := 0
	for cycle := uint64(0); cycle < *maxCycles && (idx < len(requests) || completed < len(requests)); cycle++ {
		for idx < len(requests) {
			req := requests[idx]
			if !ctrl.MakeRequest(req.lineaddr, req.isRead) {
				break
			}
			idx++
		}
		ctrl.Tick()
	}

	stats := ctrl.Stats()
	fmt.Printf("reads=%d writes=%d mean_read_latency=%.2f host_cycles=%d\n",
		stats.NumReads, stats.NumWrites, stats.MeanReadLatency, ctrl.HostCycle())
}

type traceRequest struct {
	lineaddr uint64
	isRead   bool
}

func readTrace(f *os.File) ([]traceRequest, error) {
	var reqs []traceRequest
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		isRead := true
		if strings.HasPrefix(line, "W ") {
			isRead = false
			line = strings.TrimPrefix(line, "W ")
		} else if strings.HasPrefix(line, "R ") {
			line = strings.TrimPrefix(line, "R ")
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(line), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trace line %q: %w", line, err)
		}
		reqs = append(reqs, traceRequest{lineaddr: addr, isRead: isRead})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return reqs, nil
}
