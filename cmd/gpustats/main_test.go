package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/gpustats/internal/report"
)

const temps = "LINCOLNSHIRE 1 1 0 3\nLINCOLNSHIRE 1 1 1 1\nLINCOLNSHIRE 1 1 2 4\nLINCOLNSHIRE 1 1 3 1\n" +
	"LINCOLNSHIRE 1 1 4 5\nLINCOLNSHIRE 1 1 5 9\nLINCOLNSHIRE 1 1 6 2\nLINCOLNSHIRE 1 1 7 6\n"

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Text(t *testing.T) {
	path := writeFile(t, "temps.txt", temps)

	code, stdout, stderr := runCLI(t, "", "-group", "4", "-dtype", "int32", path)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "Running on cpu")
	assert.Contains(t, stdout, "Sum = 31\n")
	assert.Contains(t, stdout, "Min = 1\n")
	assert.Contains(t, stdout, "Max = 9\n")
	assert.Contains(t, stdout, "Mean = 3\n")
	assert.Contains(t, stdout, "Sum execution time [ns]:")
	assert.Contains(t, stdout, "Deviation variation execution time [ns]:")
	assert.Contains(t, stdout, "Deviation summing execution time [ns]:")
}

func TestRun_JSONFromStdin(t *testing.T) {
	code, stdout, stderr := runCLI(t, temps, "-format", "json", "-group", "8", "-workers", "1", "-input", "-")
	require.Equal(t, 0, code, stderr)

	_, body, ok := strings.Cut(stdout, "\n")
	require.True(t, ok)
	var s report.Summary
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	assert.Equal(t, "float32", s.DataType)
	assert.Equal(t, 8, s.Count)
	assert.InDelta(t, 31.0, s.Sum, 1e-6)
	assert.InDelta(t, 3.875, s.Mean, 1e-6)
	assert.Len(t, s.Timings, 5)
}

func TestRun_ConfigFileAndOverride(t *testing.T) {
	input := writeFile(t, "temps.txt", temps)
	cfg := writeFile(t, "gpustats.yaml", "group_size: 4\ndtype: int32\nformat: json\ninput: "+input+"\n")

	code, stdout, stderr := runCLI(t, "", "-config", cfg, "-format", "text")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Sum = 31\n")
}

func TestRun_MalformedInput(t *testing.T) {
	path := writeFile(t, "temps.txt", "a 1\nb x\nc 3\n")

	code, _, stderr := runCLI(t, "", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "ERROR: ")
	assert.Contains(t, stderr, "malformed input data")

	code, stdout, stderr := runCLI(t, "", "-skip-malformed", "-dtype", "int32", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Sum = 4\n")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"bad flag", []string{"-nope"}, 2, "flag provided but not defined"},
		{"bad group size", []string{"-group", "3"}, 2, "invalid configuration"},
		{"bad device", []string{"-device", "tpu"}, 2, "invalid configuration"},
		{"missing input", []string{filepath.Join(os.TempDir(), "gpustats-missing.txt")}, 1, "ERROR: "},
		{"cpu device index", []string{"-device-index", "1", "x"}, 1, "device not available"},
		{"missing config", []string{"-config", filepath.Join(os.TempDir(), "gpustats-missing.yaml")}, 2, "ERROR: "},
		{"malformed config", []string{"-config", "CONFIG"}, 2, "ERROR: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if len(args) == 2 && args[1] == "CONFIG" {
				args = []string{"-config", writeFile(t, "bad.yaml", "group_size: [\n")}
			}
			code, _, stderr := runCLI(t, "", args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_EmptyInput(t *testing.T) {
	path := writeFile(t, "empty.txt", "\n\n")

	code, _, stderr := runCLI(t, "", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid input")
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "gpustats "+version+"\n", stdout)
}

func TestRun_List(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-list")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "0: cpu"), stdout)
}
