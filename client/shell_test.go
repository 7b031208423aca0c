package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log/testlogger"
)

// fileDownloader writes the requested location into the destination.
type fileDownloader struct {
	locations []string
}

func (f *fileDownloader) Download(_ context.Context, location, dst string) error {
	f.locations = append(f.locations, location)
	return os.WriteFile(dst, []byte(location), 0o600)
}

// fakeTool writes a shell script that records its arguments, writes its last
// argument and prints record.
func fakeTool(t *testing.T, record string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + argsFile + "\n" +
		"for last; do :; done\n" +
		"echo artifact > \"$last\"\n" +
		"echo progress 100%\n" +
		"echo '" + record + "'\n"
	tool := filepath.Join(dir, "powersoftau")
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o700))
	return tool, argsFile
}

func TestParseParameters(t *testing.T) {
	p, err := ParseParameters(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultParameters, p)

	p, err = ParseParameters(json.RawMessage(`{"curveKind":"bls12_377","power":12}`))
	require.NoError(t, err)
	require.Equal(t, Parameters{CurveKind: "bls12_377", BatchSize: 64, ChunkSize: 512, Power: 12}, p)

	_, err = ParseParameters(json.RawMessage(`[1]`))
	require.Error(t, err)
}

func TestShellContributor(t *testing.T) {
	tool, argsFile := fakeTool(t, `{"challengeHash":"c1","responseHash":"r1"}`)
	dl := &fileDownloader{}
	s := &ShellTransformer{
		Command:    tool,
		SeedFile:   "/seed",
		Role:       ceremony.Contributor,
		Downloader: dl,
		Dir:        t.TempDir(),
		Log:        testlogger.New(t),
	}
	doc := &ceremony.Ceremony{Parameters: json.RawMessage(`{"power":8}`)}
	chunk := &ceremony.Chunk{ChunkID: "3", Contributions: []ceremony.Contribution{
		{VerifiedLocation: "/chunks/3/contribution/0/v0", Verified: true},
	}}

	res, err := s.Transform(context.Background(), doc, chunk)
	require.NoError(t, err)
	require.JSONEq(t, `{"challengeHash":"c1","responseHash":"r1"}`, string(res.Record))
	require.Equal(t, []string{"/chunks/3/contribution/0/v0"}, dl.locations)

	content, err := os.ReadFile(res.ArtifactPath)
	require.NoError(t, err)
	require.Equal(t, "artifact\n", string(content))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(args),
		"--curve-kind bw6 --batch-size 64 --contribution-mode chunked --chunk-size 512 --power 8 --seed /seed --chunk-index 3 contribute --challenge-fname "))

	res.Cleanup()
	_, err = os.Stat(res.ArtifactPath)
	require.True(t, os.IsNotExist(err))
}

func TestShellVerifier(t *testing.T) {
	tool, argsFile := fakeTool(t, `{"challengeHash":"c1","responseHash":"r1","newChallengeHash":"n1"}`)
	dl := &fileDownloader{}
	s := &ShellTransformer{
		Command:    tool,
		Role:       ceremony.Verifier,
		Downloader: dl,
		Dir:        t.TempDir(),
		Log:        testlogger.New(t),
	}
	chunk := &ceremony.Chunk{ChunkID: "3", Contributions: []ceremony.Contribution{
		{VerifiedLocation: "/challenge", Verified: true},
		{ContributedLocation: "/response"},
	}}

	res, err := s.Transform(context.Background(), &ceremony.Ceremony{}, chunk)
	require.NoError(t, err)
	defer res.Cleanup()
	require.Equal(t, []string{"/challenge", "/response"}, dl.locations)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(args), "--chunk-index 3 verify-and-transform-pok-and-correctness --challenge-fname ")
	require.Contains(t, string(args), "--new-challenge-fname "+res.ArtifactPath)

	// nothing to verify on a chunk with a verified head only
	_, err = s.Transform(context.Background(), &ceremony.Ceremony{}, &ceremony.Chunk{
		ChunkID:       "4",
		Contributions: []ceremony.Contribution{{Verified: true}},
	})
	require.Error(t, err)
}

func TestShellRequiresRecord(t *testing.T) {
	tool, _ := fakeTool(t, "done")
	dir := t.TempDir()
	s := &ShellTransformer{
		Command:    tool,
		Role:       ceremony.Contributor,
		Downloader: &fileDownloader{},
		Dir:        dir,
		Log:        testlogger.New(t),
	}
	chunk := &ceremony.Chunk{ChunkID: "1", Contributions: []ceremony.Contribution{{Verified: true}}}
	_, err := s.Transform(context.Background(), &ceremony.Ceremony{}, chunk)
	require.Error(t, err)

	// scratch files are gone after a failure
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
