package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/b1naryth1ef/pollsync"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood by older deployments that configured the sync through
// config.json and FTP_* environment variables.
const (
	legacyRemoteDirectory = "ftp_remote_directory"
	legacyIterations      = "ftp_check_for_new_files_interations"
	legacyDelaySeconds    = "ftp_check_for_new_files_interations_delay"
)

type settings struct {
	cfg          pollsync.Config
	creds        pollsync.Credentials
	manifestPath string
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "config file (default ./config.json)")
	flags.String("env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringP("manifest", "m", "file_list.json", "manifest listing the files to fetch")
	flags.String("remote-dir", "", "remote directory (default \"files\")")
	flags.String("local-dir", "", "local directory (default \"downloads\")")
	flags.IntP("iterations", "n", 0, "maximum number of polling rounds (default 1)")
	flags.Duration("delay", 0, "wait between polling rounds")
	flags.Duration("transfer-timeout", 0, "limit for a single file transfer, 0 for none")
	flags.Bool("mirror-all", false, "fetch every file in the remote directory when the manifest is empty")
	flags.String("protocol", pollsync.ProtocolSFTP, "remote protocol: sftp or http")
	flags.String("host", "", "remote host")
	flags.Uint16("port", 0, "remote port (default 22 for sftp, 80 for http)")
	flags.StringP("user", "u", "", "remote user")
	flags.String("known-hosts", "", "known_hosts file used to verify the server key")
	flags.Bool("use-ssh-config", false, "resolve --host as an alias in ~/.ssh/config")
}

// newViper wires flags, the environment and the optional config file into a
// single viper instance.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for key, flag := range map[string]string{
		"manifest":         "manifest",
		"remote_directory": "remote-dir",
		"local_directory":  "local-dir",
		"max_iterations":   "iterations",
		"delay":            "delay",
		"transfer_timeout": "transfer-timeout",
		"mirror_all":       "mirror-all",
		"protocol":         "protocol",
		"host":             "host",
		"port":             "port",
		"user":             "user",
		"known_hosts":      "known-hosts",
		"use_ssh_config":   "use-ssh-config",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("POLLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.BindEnv("host", "POLLSYNC_HOST", "FTP_HOSTNAME")
	v.BindEnv("user", "POLLSYNC_USER", "FTP_USERNAME")
	v.BindEnv("secret", "POLLSYNC_SECRET", "FTP_PASSWORD")

	return v, nil
}

// firstSet returns the first of keys that has an explicit value.
func firstSet(v *viper.Viper, keys ...string) (string, bool) {
	for _, key := range keys {
		if v.IsSet(key) {
			return key, true
		}
	}
	return "", false
}

// durationSetting reads key as a Go duration ("90s", "1m30s"). Bare numbers,
// as written by older config files, are seconds.
func durationSetting(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.Get(key)
	switch value := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return value, nil
	case string:
		if d, err := time.ParseDuration(value); err == nil {
			return d, nil
		}
	}

	secs, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v is neither a duration nor a number of seconds", pollsync.ErrInvalidConfig, key, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func loadSettings(v *viper.Viper) (*settings, error) {
	cfg := pollsync.DefaultConfig()

	if key, ok := firstSet(v, "remote_directory", legacyRemoteDirectory); ok {
		cfg.RemoteDirectory = v.GetString(key)
	}
	if key, ok := firstSet(v, "local_directory"); ok {
		cfg.LocalDirectory = v.GetString(key)
	}
	if key, ok := firstSet(v, "max_iterations", legacyIterations); ok {
		cfg.MaxIterations = v.GetInt(key)
	}
	var err error
	if key, ok := firstSet(v, "delay", legacyDelaySeconds); ok {
		if cfg.Delay, err = durationSetting(v, key); err != nil {
			return nil, err
		}
	}
	if cfg.TransferTimeout, err = durationSetting(v, "transfer_timeout"); err != nil {
		return nil, err
	}
	cfg.MirrorAll = v.GetBool("mirror_all")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds := pollsync.Credentials{
		Protocol:       strings.ToLower(v.GetString("protocol")),
		Host:           v.GetString("host"),
		Port:           uint16(v.GetUint("port")),
		User:           v.GetString("user"),
		Secret:         v.GetString("secret"),
		KnownHostsFile: v.GetString("known_hosts"),
		UseSSHConfig:   v.GetBool("use_ssh_config"),
	}

	return &settings{
		cfg:          cfg,
		creds:        creds,
		manifestPath: v.GetString("manifest"),
	}, nil
}
