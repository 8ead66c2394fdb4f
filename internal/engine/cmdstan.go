package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/internal/logging"
)

// CmdStan samples by compiling the program inside a CmdStan installation and
// running one sampler process per chain.
type CmdStan struct {
	// Dir is the CmdStan installation directory
	Dir string

	// Make is the make executable; defaults to "make"
	Make string

	Log *logging.Logger
}

// NewCmdStan creates a CmdStan sampler.
func NewCmdStan(dir, makeCmd string, log *logging.Logger) *CmdStan {
	if makeCmd == "" {
		makeCmd = "make"
	}
	return &CmdStan{Dir: dir, Make: makeCmd, Log: logging.OrNop(log)}
}

// ExecutablePath returns the path CmdStan builds stanFile into.
func ExecutablePath(stanFile string) string {
	exe := strings.TrimSuffix(stanFile, filepath.Ext(stanFile))
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	return exe
}

// Compile builds the executable for stanFile unless an up-to-date one exists.
func (c *CmdStan) Compile(ctx context.Context, stanFile string) (string, error) {
	if c.Dir == "" {
		return "", regerrors.NewEngineError(regerrors.CodeCompileFailed,
			"CmdStan directory is not configured; set CMDSTAN or engine.cmdstan_dir", nil)
	}
	src, err := filepath.Abs(stanFile)
	if err != nil {
		return "", regerrors.NewEngineError(regerrors.CodeCompileFailed, "resolve "+stanFile, err)
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", regerrors.NewEngineError(regerrors.CodeCompileFailed, "stat "+src, err)
	}

	exe := ExecutablePath(src)
	if exeInfo, err := os.Stat(exe); err == nil && exeInfo.ModTime().After(srcInfo.ModTime()) {
		c.Log.Debug("executable up to date", "exe", exe)
		return exe, nil
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Make, "-C", c.Dir, exe)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", regerrors.NewEngineError(regerrors.CodeCompileFailed,
			fmt.Sprintf("make %s failed; out=%s", filepath.Base(exe), lastLines(out, 20)), err)
	}
	c.Log.Info("compiled model", "exe", exe, "took", time.Since(start).Round(time.Millisecond))
	return exe, nil
}

// Sample compiles the program, runs every chain with at most
// Settings.ParallelChains processes at once and assembles the outputs.
func (c *CmdStan) Sample(ctx context.Context, req SampleRequest) (*Fit, error) {
	exe, err := c.Compile(ctx, req.StanFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "create output dir", err)
	}

	s := req.Settings
	chains := int(s.Chains)
	parallel := int(s.ParallelChains)
	if parallel < 1 || parallel > chains {
		parallel = chains
	}

	name := strings.TrimSuffix(filepath.Base(req.StanFile), filepath.Ext(req.StanFile))
	outputs := make([]*ChainOutput, chains)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < chains; i++ {
		chain := i + 1
		g.Go(func() error {
			csvPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s-%d.csv", name, chain))
			args := chainArgs(req, chain, csvPath)

			cmd := exec.CommandContext(gctx, exe, args...)
			cmd.Dir = req.OutputDir
			out, err := cmd.CombinedOutput()
			if err != nil {
				return regerrors.NewEngineError(regerrors.CodeSamplingFailed,
					fmt.Sprintf("chain %d failed; out=%s", chain, lastLines(out, 20)), err)
			}

			f, err := os.Open(csvPath)
			if err != nil {
				return regerrors.NewEngineError(regerrors.CodeOutputInvalid,
					fmt.Sprintf("chain %d output missing", chain), err)
			}
			defer f.Close()

			parsed, err := ParseStanCSV(f)
			if err != nil {
				return fmt.Errorf("chain %d: %w", chain, err)
			}
			outputs[i] = parsed
			c.Log.Debug("chain finished", "model", name, "chain", chain, "draws", len(parsed.Rows))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Assemble(outputs)
}

// chainArgs renders the CmdStan command line for one chain.
func chainArgs(req SampleRequest, chain int, csvPath string) []string {
	s := req.Settings
	return []string{
		"sample",
		"num_samples=" + strconv.FormatInt(s.IterSampling, 10),
		"num_warmup=" + strconv.FormatInt(s.IterWarmup, 10),
		"thin=" + strconv.FormatInt(s.Thin, 10),
		"adapt", "delta=" + strconv.FormatFloat(s.AdaptDelta, 'g', -1, 64),
		"algorithm=hmc", "engine=nuts", "max_depth=" + strconv.FormatInt(s.MaxTreedepth, 10),
		"id=" + strconv.Itoa(chain),
		"data", "file=" + req.DataFile,
		"random", "seed=" + strconv.FormatInt(s.Seed, 10),
		"output", "file=" + csvPath, "sig_figs=" + strconv.FormatInt(s.SigFigs, 10),
	}
}

func lastLines(out []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
