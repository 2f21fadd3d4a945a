package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tablefinder/tablefinder/pkg/a2ui"
)

// setupTestEnv points HOME at an empty directory so no user config is read.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func runCmd(t *testing.T, stdin string, args ...string) (stdout string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	resetFlags(rootCmd)
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeTestFile writes a file to a temp dir and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const objectSchema = `{"type":"object","required":["beginRendering"]}`

func TestVersion(t *testing.T) {
	setupTestEnv(t)
	stdout, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(stdout, "tablefinder") {
		t.Fatalf("expected 'tablefinder', got: %s", stdout)
	}
}

func TestVersionVerbose(t *testing.T) {
	setupTestEnv(t)
	stdout, err := runCmd(t, "", "version", "-v")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(stdout, "config: (defaults)") {
		t.Fatalf("got: %s", stdout)
	}
}

func TestValidateFile(t *testing.T) {
	setupTestEnv(t)
	schema := writeTestFile(t, "schema.json", objectSchema)
	answer := writeTestFile(t, "answer.txt",
		"Here are some places."+a2ui.Delimiter+"\n```json\n[{\"beginRendering\":{\"surfaceId\":\"s\"}}]\n```")

	stdout, err := runCmd(t, "", "validate", "--schema", schema, answer)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(stdout, "✓ valid A2UI answer") {
		t.Fatalf("got: %s", stdout)
	}
}

func TestValidateStdinInvalid(t *testing.T) {
	setupTestEnv(t)
	schema := writeTestFile(t, "schema.json", objectSchema)

	_, err := runCmd(t, "just some text", "validate", "--schema", schema)
	if err == nil {
		t.Fatal("validate should fail without a delimiter")
	}
	if !strings.Contains(err.Error(), "A2UI contract") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateJSONOutput(t *testing.T) {
	setupTestEnv(t)
	schema := writeTestFile(t, "schema.json", objectSchema)

	stdout, err := runCmd(t, "text"+a2ui.Delimiter+"[{\"other\":1}]", "validate", "-o", "json", "--schema", schema, "-")
	if err == nil {
		t.Fatal("schema violation should fail")
	}
	if !strings.Contains(stdout, `"valid": false`) {
		t.Fatalf("expected JSON result, got: %s", stdout)
	}
}

func TestValidateBuiltinSchema(t *testing.T) {
	setupTestEnv(t)
	if _, err := runCmd(t, "no payload", "validate"); err == nil {
		t.Fatal("validate should fail without a delimiter")
	}
}

func TestAskWithoutModel(t *testing.T) {
	setupTestEnv(t)
	if _, err := runCmd(t, "", "ask", "chinese food in NY"); err == nil {
		t.Fatal("ask should fail without a configured model")
	}
}

func TestTranscriptsNeedBadger(t *testing.T) {
	setupTestEnv(t)
	_, err := runCmd(t, "", "transcripts")
	if err == nil || !strings.Contains(err.Error(), "badger") {
		t.Fatalf("err = %v", err)
	}
}

func TestTranscriptsBadgerEmpty(t *testing.T) {
	setupTestEnv(t)
	cfg := writeTestFile(t, "config.yaml", "transcripts:\n  driver: badger\n  dir: "+t.TempDir()+"\n")

	stdout, err := runCmd(t, "", "transcripts", "-c", cfg, "-o", "json")
	if err != nil {
		t.Fatalf("transcripts error: %v", err)
	}
	if strings.TrimSpace(stdout) != "null" && strings.TrimSpace(stdout) != "[]" {
		t.Errorf("got: %s", stdout)
	}
}

func TestBadOutputFormat(t *testing.T) {
	setupTestEnv(t)
	if _, err := runCmd(t, "", "version", "-o", "table"); err == nil {
		t.Fatal("unknown output format should fail")
	}
}
