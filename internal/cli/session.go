package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"animewife/internal/store"
)

// Profile is who wifectl speaks as and where it sends commands.
type Profile struct {
	APIBaseURL string `json:"api_base_url"`
	Token      string `json:"token,omitempty"`
	Group      string `json:"group"`
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname,omitempty"`
}

var ErrNoProfile = errors.New("no profile found: run `wifectl login` first")

func (p Profile) Validate() error {
	if strings.TrimSpace(p.APIBaseURL) == "" {
		return fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(p.Group) == "" {
		return fmt.Errorf("group is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

// ProfileDir is overridable for tests; empty means ~/.wifectl.
var ProfileDir = ""

func baseDir() (string, error) {
	dir := ProfileDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".wifectl")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func profilePath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

func SaveProfile(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	path, err := profilePath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(path, body, 0o600)
}

func LoadProfile() (Profile, error) {
	path, err := profilePath()
	if err != nil {
		return Profile{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, ErrNoProfile
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile: %w", err)
	}
	return p, nil
}

func ClearProfile() error {
	path, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
