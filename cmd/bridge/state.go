package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nordeck/feedback-application/internal/config"
	"github.com/nordeck/feedback-application/internal/host"
)

// stateFile is the on-disk description of the client state read by metric accessors.
// Absent sections stay nil so the matching metrics are reported as read errors.
type stateFile struct {
	Location   string `json:"location"`
	LibVersion string `json:"libVersion"`
	Conference *struct {
		MyUserID           string            `json:"myUserId"`
		ComponentsVersions map[string]string `json:"componentsVersions"`
	} `json:"conference"`
	LocalParticipant *host.Participant `json:"localParticipant"`
	Analytics        *struct {
		ConferenceName string `json:"conferenceName"`
		UserRegion     string `json:"userRegion"`
		AppName        string `json:"appName"`
		UserAgent      string `json:"userAgent"`
		ExternalAPI    bool   `json:"externalApi"`
		InIframe       bool   `json:"inIframe"`
	} `json:"analytics"`
	Browser *struct {
		Name    string       `json:"name"`
		Version string       `json:"version"`
		OS      *host.OSInfo `json:"os"`
	} `json:"browser"`
}

// loadState reads path (if set) and adds the deployment descriptor from cfg.
func loadState(path string, cfg *config.Config) (*host.State, error) {
	var f stateFile
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("state %s: %w", path, err)
		}
	}
	return f.toHost(cfg), nil
}

func (f stateFile) toHost(cfg *config.Config) *host.State {
	s := &host.State{
		Location:         f.Location,
		LibVersion:       f.LibVersion,
		LocalParticipant: f.LocalParticipant,
		Deployment: &host.DeploymentInfo{
			Region:         cfg.DeploymentRegion,
			Shard:          cfg.DeploymentShard,
			Environment:    cfg.DeploymentEnvironment,
			EnvType:        cfg.DeploymentEnvType,
			BackendRelease: cfg.DeploymentBackendRelease,
		},
	}
	if f.Conference != nil {
		s.Conference = &host.Conference{MyUserID: f.Conference.MyUserID}
		if f.Conference.ComponentsVersions != nil {
			s.Conference.ComponentsVersions = &host.ComponentsVersions{Versions: f.Conference.ComponentsVersions}
		}
	}
	if a := f.Analytics; a != nil {
		s.Analytics = &host.AnalyticsProperties{
			ConferenceName: a.ConferenceName,
			UserRegion:     a.UserRegion,
			AppName:        a.AppName,
			UserAgent:      a.UserAgent,
			ExternalAPI:    a.ExternalAPI,
			InIframe:       a.InIframe,
		}
	}
	if b := f.Browser; b != nil {
		s.Browser = host.StaticBrowser{BrowserName: b.Name, BrowserVersion: b.Version, OSInfo: b.OS}
	}
	return s
}
