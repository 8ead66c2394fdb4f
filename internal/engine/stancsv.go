package engine

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	regerrors "github.com/minipdb/minipdb/internal/errors"
)

const invMetricMarker = "Diagonal elements of inverse mass matrix:"

// ParseStanCSV reads one chain of CmdStan sampler output. Comment lines carry
// the adapted diagonal inverse metric, which follows invMetricMarker on the
// next comment line.
func ParseStanCSV(r io.Reader) (*ChainOutput, error) {
	out := &ChainOutput{}
	var body strings.Builder

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	expectMetric := false
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			text := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			switch {
			case text == invMetricMarker:
				expectMetric = true
			case expectMetric && text != "":
				metric, err := parseFloats(strings.Split(text, ","))
				if err != nil {
					return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, "parse inverse metric", err)
				}
				out.InvMetric = metric
				expectMetric = false
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, "read sampler output", err)
	}

	records, err := csv.NewReader(strings.NewReader(body.String())).ReadAll()
	if err != nil {
		return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, "parse sampler output", err)
	}
	if len(records) == 0 {
		return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, "sampler output has no header", nil)
	}

	out.Columns = make([]string, len(records[0]))
	for i, c := range records[0] {
		out.Columns[i] = ColumnName(strings.TrimSpace(c))
	}
	for i, rec := range records[1:] {
		row, err := parseFloats(rec)
		if err != nil {
			return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, fmt.Sprintf("parse draw %d", i+1), err)
		}
		out.Rows = append(out.Rows, row)
	}
	if out.InvMetric == nil {
		return nil, regerrors.NewEngineError(regerrors.CodeOutputInvalid, "sampler output has no inverse metric", nil)
	}
	return out, nil
}

// ColumnName converts CmdStan's dotted names to indexed form: theta.1 becomes
// theta[1] and Sigma.1.2 becomes Sigma[1,2].
func ColumnName(raw string) string {
	base, idx, ok := strings.Cut(raw, ".")
	if !ok {
		return raw
	}
	return base + "[" + strings.ReplaceAll(idx, ".", ",") + "]"
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
