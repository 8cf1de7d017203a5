package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/b1naryth1ef/pollsync"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FTP_HOSTNAME", "FTP_USERNAME", "FTP_PASSWORD",
		"POLLSYNC_HOST", "POLLSYNC_USER", "POLLSYNC_SECRET",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse(append([]string{"--env-file", ""}, args...)))
	return flags
}

func TestLoadSettings_LegacyConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	config := writeFile(t, filepath.Join(dir, "config.json"), `{
		"ftp_remote_directory": "incoming",
		"local_directory": "inbox",
		"ftp_check_for_new_files_interations": 5,
		"ftp_check_for_new_files_interations_delay": 1.5
	}`)
	t.Setenv("FTP_HOSTNAME", "sftp.example.com")
	t.Setenv("FTP_USERNAME", "ftpuser")
	t.Setenv("FTP_PASSWORD", "ftppass")

	v, err := newViper(parseFlags(t, "--config", config))
	require.NoError(t, err)
	s, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, "incoming", s.cfg.RemoteDirectory)
	assert.Equal(t, "inbox", s.cfg.LocalDirectory)
	assert.Equal(t, 5, s.cfg.MaxIterations)
	assert.Equal(t, 1500*time.Millisecond, s.cfg.Delay)
	assert.Equal(t, "file_list.json", s.manifestPath)

	assert.Equal(t, pollsync.ProtocolSFTP, s.creds.Protocol)
	assert.Equal(t, "sftp.example.com", s.creds.Host)
	assert.Equal(t, "ftpuser", s.creds.User)
	assert.Equal(t, "ftppass", s.creds.Secret)
	assert.NoError(t, s.creds.Validate())
}

func TestLoadSettings_FlagsOverrideConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	config := writeFile(t, filepath.Join(dir, "config.json"), `{
		"remote_directory": "incoming",
		"ftp_remote_directory": "ignored",
		"max_iterations": 3,
		"delay": "10s"
	}`)
	t.Setenv("POLLSYNC_HOST", "sftp.example.com")

	v, err := newViper(parseFlags(t,
		"--config", config,
		"--iterations", "7",
		"--transfer-timeout", "30s",
		"--port", "2222",
		"--mirror-all",
	))
	require.NoError(t, err)
	s, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, "incoming", s.cfg.RemoteDirectory)
	assert.Equal(t, pollsync.DefaultLocalDirectory, s.cfg.LocalDirectory)
	assert.Equal(t, 7, s.cfg.MaxIterations)
	assert.Equal(t, 10*time.Second, s.cfg.Delay)
	assert.Equal(t, 30*time.Second, s.cfg.TransferTimeout)
	assert.True(t, s.cfg.MirrorAll)
	assert.Equal(t, uint16(2222), s.creds.Port)
	assert.Equal(t, "sftp.example.com", s.creds.Host)
}

func TestLoadSettings_Defaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	v, err := newViper(parseFlags(t))
	require.NoError(t, err)
	s, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, pollsync.DefaultConfig(), s.cfg)
	assert.ErrorIs(t, s.creds.Validate(), pollsync.ErrMissingCredentials)
}

func TestLoadSettings_InvalidIterations(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	v, err := newViper(parseFlags(t, "--iterations", "-1"))
	require.NoError(t, err)
	_, err = loadSettings(v)
	assert.ErrorIs(t, err, pollsync.ErrInvalidConfig)
}

func TestLoadSettings_NumericDurationsAreSeconds(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	config := writeFile(t, filepath.Join(dir, "config.json"), `{"delay": 5}`)
	t.Setenv("POLLSYNC_TRANSFER_TIMEOUT", "45")

	v, err := newViper(parseFlags(t, "--config", config))
	require.NoError(t, err)
	s, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, s.cfg.Delay)
	assert.Equal(t, 45*time.Second, s.cfg.TransferTimeout)
}

func TestLoadSettings_InvalidDuration(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	config := writeFile(t, filepath.Join(dir, "config.json"), `{"delay": "soon"}`)

	v, err := newViper(parseFlags(t, "--config", config))
	require.NoError(t, err)
	_, err = loadSettings(v)
	assert.ErrorIs(t, err, pollsync.ErrInvalidConfig)
}

func TestNewViper_MissingExplicitConfig(t *testing.T) {
	clearEnv(t)
	_, err := newViper(parseFlags(t, "--config", filepath.Join(t.TempDir(), "nope.json")))
	assert.Error(t, err)
}

func TestNewViper_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	env := writeFile(t, filepath.Join(dir, "creds.env"), "FTP_HOSTNAME=h\nFTP_USERNAME=u\nFTP_PASSWORD=p\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse([]string{"--env-file", env}))

	v, err := newViper(flags)
	require.NoError(t, err)
	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "h", s.creds.Host)
	assert.Equal(t, "u", s.creds.User)
	assert.Equal(t, "p", s.creds.Secret)
}

func TestLoadPending(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "file_list.json", []byte(`{"files": ["b.txt", "a.txt"]}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "bad.json", []byte(`{"files": ["../x"]}`), 0o644))

	s := &settings{cfg: pollsync.DefaultConfig(), manifestPath: "file_list.json"}
	pending, err := loadPending(fs, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, pending.Names())

	s.manifestPath = "bad.json"
	_, err = loadPending(fs, s)
	assert.ErrorIs(t, err, pollsync.ErrInvalidManifest)

	s.manifestPath = "missing.json"
	_, err = loadPending(fs, s)
	assert.Error(t, err)

	s.cfg.MirrorAll = true
	pending, err = loadPending(fs, s)
	require.NoError(t, err)
	assert.True(t, pending.IsEmpty())
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append(args, "--env-file", "", "--log-file", ""))
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, filepath.Join(dir, "file_list.json"), `{"files": ["report.csv", "data.bin"]}`)
	t.Setenv("FTP_HOSTNAME", "sftp.example.com")
	t.Setenv("FTP_USERNAME", "ftpuser")
	t.Setenv("FTP_PASSWORD", "ftppass")

	out, err := executeRoot(t, "check", "--iterations", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "ftpuser@sftp.example.com files -> downloads: 2 file(s), 4 round(s)")
	assert.Contains(t, out, "data.bin\nreport.csv")

	_, err = os.Stat(filepath.Join(dir, "downloads"))
	assert.True(t, os.IsNotExist(err), "check must not touch the local directory")
}

func TestCheckCommand_MissingCredentials(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, filepath.Join(dir, "file_list.json"), `{"files": []}`)

	_, err := executeRoot(t, "check")
	assert.ErrorIs(t, err, pollsync.ErrMissingCredentials)
}

func TestSyncCommand_InvalidManifest(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, filepath.Join(dir, "file_list.json"), `{"names": []}`)
	t.Setenv("FTP_HOSTNAME", "sftp.example.com")
	t.Setenv("FTP_USERNAME", "ftpuser")
	t.Setenv("FTP_PASSWORD", "ftppass")

	_, err := executeRoot(t, "sync")
	assert.ErrorIs(t, err, pollsync.ErrInvalidManifest)
}

func TestSyncCommand_Locked(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, filepath.Join(dir, "file_list.json"), `{"files": ["a.txt"]}`)
	t.Setenv("FTP_HOSTNAME", "127.0.0.1")
	t.Setenv("FTP_USERNAME", "ftpuser")
	t.Setenv("FTP_PASSWORD", "ftppass")

	lock, err := pollsync.LockDirectory(filepath.Join(dir, "downloads"))
	require.NoError(t, err)
	defer lock.Unlock()

	_, err = executeRoot(t)
	assert.ErrorIs(t, err, pollsync.ErrLocked)
}

func TestNewLogger(t *testing.T) {
	out := &bytes.Buffer{}
	logFile := filepath.Join(t.TempDir(), "pollsync.log")

	logger, closeLog := newLogger(out, logFile, slog.LevelInfo)
	logger.Debug("only in file", "n", 1)
	logger.Info("everywhere", "name", "a.txt")
	require.NoError(t, closeLog())

	assert.NotContains(t, out.String(), "only in file")
	assert.Contains(t, out.String(), "everywhere")
	assert.NotContains(t, out.String(), "\x1b[", "non-terminal output must not be colored")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "msg=\"only in file\"")
	assert.Contains(t, lines[1], "name=a.txt")
}

func TestNewLogger_NoFile(t *testing.T) {
	out := &bytes.Buffer{}
	logger, closeLog := newLogger(out, "", slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, closeLog())

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	h := newMultiHandler(
		slog.NewTextHandler(a, nil),
		slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("run_id", "r1").WithGroup("file")
	logger.Info("fetched", "name", "a.txt")

	assert.Contains(t, a.String(), "run_id=r1")
	assert.Contains(t, a.String(), "file.name=a.txt")
	assert.Empty(t, b.String())
}
