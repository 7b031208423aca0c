package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// Parameters are the powers of tau settings read from the ceremony's
// parameters object.
type Parameters struct {
	CurveKind string `json:"curveKind"`
	BatchSize int    `json:"batchSize"`
	ChunkSize int    `json:"chunkSize"`
	Power     int    `json:"power"`
}

// DefaultParameters apply to every setting the document leaves out.
var DefaultParameters = Parameters{
	CurveKind: "bw6",
	BatchSize: 64,
	ChunkSize: 512,
	Power:     10,
}

// ParseParameters reads the settings from raw, falling back to the defaults.
func ParseParameters(raw json.RawMessage) (Parameters, error) {
	p := DefaultParameters
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid ceremony parameters: %w", err)
	}
	if p.CurveKind == "" {
		p.CurveKind = DefaultParameters.CurveKind
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultParameters.BatchSize
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultParameters.ChunkSize
	}
	if p.Power <= 0 {
		p.Power = DefaultParameters.Power
	}
	return p, nil
}

func (p Parameters) args() []string {
	return []string{
		"--curve-kind", p.CurveKind,
		"--batch-size", strconv.Itoa(p.BatchSize),
		"--contribution-mode", "chunked",
		"--chunk-size", strconv.Itoa(p.ChunkSize),
		"--power", strconv.Itoa(p.Power),
	}
}

// Downloader fetches an artifact to a local file.
type Downloader interface {
	Download(ctx context.Context, location, dst string) error
}

// ShellTransformer runs the powers of tau binary. As a contributor it
// consumes the last verified challenge. As a verifier it checks the last
// response against the challenge before it and writes the new challenge.
//
// The binary must print the JSON record of the transformation as the last
// line of its standard output.
type ShellTransformer struct {
	Command    string
	SeedFile   string
	Role       ceremony.Role
	Downloader Downloader
	// Dir holds scratch files. The system temporary directory if empty.
	Dir string
	// Output receives the binary's standard streams. Discarded if nil.
	Output io.Writer
	Log    log.Logger
}

// Transform implements Transformer.
func (s *ShellTransformer) Transform(ctx context.Context, doc *ceremony.Ceremony, chunk *ceremony.Chunk) (*Result, error) {
	params, err := ParseParameters(doc.Parameters)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(s.Dir, "chunk-"+chunk.ChunkID+"-")
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.Log.Warnw("unable to remove scratch files", "dir", dir, "err", err)
		}
	}

	args, artifact, err := s.prepare(ctx, dir, chunk)
	if err != nil {
		cleanup()
		return nil, err
	}
	record, err := s.run(ctx, append(params.args(), args...))
	if err != nil {
		cleanup()
		return nil, err
	}
	return &Result{ArtifactPath: artifact, Record: record, Cleanup: cleanup}, nil
}

// prepare downloads the inputs of the chunk's next transformation and
// returns the role specific arguments and the artifact path.
func (s *ShellTransformer) prepare(ctx context.Context, dir string, chunk *ceremony.Chunk) ([]string, string, error) {
	n := len(chunk.Contributions)
	if n == 0 {
		return nil, "", fmt.Errorf("chunk %s has no history", chunk.ChunkID)
	}
	challenge := filepath.Join(dir, "challenge")
	switch s.Role {
	case ceremony.Contributor:
		if err := s.Downloader.Download(ctx, chunk.Contributions[n-1].VerifiedLocation, challenge); err != nil {
			return nil, "", err
		}
		out := filepath.Join(dir, "response")
		return []string{
			"--seed", s.SeedFile,
			"--chunk-index", chunk.ChunkID,
			"contribute",
			"--challenge-fname", challenge,
			"--response-fname", out,
		}, out, nil
	case ceremony.Verifier:
		if n < 2 {
			return nil, "", fmt.Errorf("chunk %s has nothing to verify", chunk.ChunkID)
		}
		if err := s.Downloader.Download(ctx, chunk.Contributions[n-2].VerifiedLocation, challenge); err != nil {
			return nil, "", err
		}
		response := filepath.Join(dir, "response")
		if err := s.Downloader.Download(ctx, chunk.Contributions[n-1].ContributedLocation, response); err != nil {
			return nil, "", err
		}
		out := filepath.Join(dir, "new_challenge")
		return []string{
			"--chunk-index", chunk.ChunkID,
			"verify-and-transform-pok-and-correctness",
			"--challenge-fname", challenge,
			"--response-fname", response,
			"--new-challenge-fname", out,
		}, out, nil
	default:
		return nil, "", fmt.Errorf("unknown role %s", s.Role)
	}
}

func (s *ShellTransformer) run(ctx context.Context, args []string) ([]byte, error) {
	output := s.Output
	if output == nil {
		output = io.Discard
	}
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Command, args...)
	cmd.Stdout = io.MultiWriter(&stdout, output)
	cmd.Stderr = output
	s.Log.Infow("running", "command", s.Command+" "+strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s: %w", s.Command, err)
	}
	return lastRecord(stdout.Bytes())
}

// lastRecord returns the last non-empty line of out, which must be a JSON
// object.
func lastRecord(out []byte) ([]byte, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 || last[0] != '{' || !json.Valid(last) {
		return nil, errors.New("transformation did not print a JSON record")
	}
	return last, nil
}
