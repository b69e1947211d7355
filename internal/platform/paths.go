// Package platform resolves per-OS config and data locations for ticketflow.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// defaultAppName names the app directory when none is configured.
const defaultAppName = "ticketflow"

// Paths holds the resolved on-disk locations for one app name.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
	ExportDir  string
}

// Options selects the app name and dev-mode suffix used for path resolution.
type Options struct {
	AppName string
	DevMode bool
}

// baseDirEnv names the environment variables that override the config and data bases on one OS.
type baseDirEnv struct {
	config string
	data   string
}

// baseDirOverrides lists the platforms whose env vars win over the os.User* defaults.
// macOS keeps Application Support and ignores XDG.
var baseDirOverrides = map[string]baseDirEnv{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// DefaultPaths resolves paths for the default app name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: defaultAppName})
}

// DefaultPathsWithOptions resolves paths for the running OS. Dev mode appends "-dev" to the app name.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = defaultAppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configBase, dataBase, err := userBaseDirs(runtime.GOOS)
	if err != nil {
		return Paths{}, err
	}
	env := map[string]string{}
	if keys, ok := baseDirOverrides[runtime.GOOS]; ok {
		env[keys.config] = os.Getenv(keys.config)
		env[keys.data] = os.Getenv(keys.data)
	}
	return PathsFor(runtime.GOOS, env, configBase, dataBase, appName)
}

// userBaseDirs returns the OS default config and data bases before env overrides.
func userBaseDirs(goos string) (string, string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("user config dir: %w", err)
	}
	if goos != "linux" {
		return configBase, configBase, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("user home dir: %w", err)
	}
	return configBase, filepath.Join(home, ".local", "share"), nil
}

// PathsFor resolves paths for one platform from explicit base dirs and env values.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, errors.New("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("empty app name")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if keys, ok := baseDirOverrides[goos]; ok {
		if v := strings.TrimSpace(env[keys.config]); v != "" {
			configBase = v
		}
		if v := strings.TrimSpace(env[keys.data]); v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath: filepath.Join(configBase, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
		ExportDir:  filepath.Join(dataDir, "exports"),
	}, nil
}

// EnsureDataDirs creates DataDir and the directories nested under it.
func (p Paths) EnsureDataDirs() error {
	for _, dir := range []string{p.DataDir, p.LogDir, p.ExportDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
