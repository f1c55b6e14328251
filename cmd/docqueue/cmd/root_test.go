package cmd

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mhpenta/docqueue/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())
}

// resetFlags puts every flag of c and its subcommands back to its default;
// cobra keeps parsed values between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI against dsn and returns what it printed on stdout.
func execute(t *testing.T, dsn string, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, dsn, "", args...)
}

func executeWithInput(t *testing.T, dsn, stdin string, args ...string) (string, error) {
	t.Helper()
	resetViper()
	resetFlags(rootCmd)
	cfgFile = ""

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--driver", "sqlite", "--sqlite-dsn", dsn, "--log-level", "error"}, args...))

	err := rootCmd.Execute()
	return stdout.String(), err
}

func testDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "queue.db")
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := []string{"push", "schedule", "work", "size", "list", "clear", "sweep", "delete", "failed"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q subcommand to be registered", name)
		}
	}
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, testDSN(t), "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "docqueue") {
		t.Errorf("expected help text, got: %s", out)
	}
}

func TestRootCommand_UnknownDriver(t *testing.T) {
	resetViper()
	resetFlags(rootCmd)
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--driver", "redis", "size"})

	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected unknown driver error, got: %v", err)
	}
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	dsn := testDSN(t)
	_, err := execute(t, dsn, "size", "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected invalid log level error, got: %v", err)
	}
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()
	t.Setenv("DOCQUEUE_QUEUE_NAME", "emails")
	t.Setenv("DOCQUEUE_WORKER_MAX_TRIES", "5")

	if got := viper.GetString("queue.name"); got != "emails" {
		t.Errorf("expected queue name from env var, got: %s", got)
	}
	if got := viper.GetInt("worker.max_tries"); got != 5 {
		t.Errorf("expected max tries from env var, got: %d", got)
	}
}

func TestRootCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "from-file.db")
	path := filepath.Join(dir, "docqueue.yaml")
	content := "driver: sqlite\nsqlite:\n  dsn: " + dsn + "\nqueue:\n  name: reports\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	resetViper()
	resetFlags(rootCmd)
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--config", path, "push", "payload"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfgFile = ""

	if cfg.Queue.Name != "reports" {
		t.Errorf("expected queue name from config file, got: %s", cfg.Queue.Name)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Errorf("expected database at %s: %v", dsn, err)
	}
}
