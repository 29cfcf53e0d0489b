// Package metrics gathers session and environment facts from the conferencing
// client for attachment to feedback submissions.
package metrics

import (
	"errors"
	"fmt"

	"github.com/nordeck/feedback-application/internal/host"
)

// ID names one collectible fact.
type ID string

const (
	MeetingURL        ID = "meetingUrl"
	MeetingID         ID = "meetingId"
	ParticipantID     ID = "participantId"
	MatrixUserID      ID = "matrixUserId"
	DisplayName       ID = "displayName"
	UserRegion        ID = "userRegion"
	AppLibVersion     ID = "appLibVersion"
	AppFocusVersion   ID = "appFocusVersion"
	AppName           ID = "appName"
	AppMeetingRegion  ID = "appMeetingRegion"
	AppShard          ID = "appShard"
	AppRegion         ID = "appRegion"
	AppEnvironment    ID = "appEnvironment"
	AppEnvType        ID = "appEnvType"
	AppBackendRelease ID = "appBackendRelease"
	UserAgent         ID = "userAgent"
	BrowserName       ID = "browserName"
	BrowserVersion    ID = "browserVersion"
	OSName            ID = "osName"
	OSVersion         ID = "osVersion"
	OSVersionName     ID = "osVersionName"
	ExternalAPI       ID = "externalApi"
	InIframe          ID = "inIframe"
)

// DefaultIDs is collected when no list is configured.
var DefaultIDs = []ID{
	MeetingURL, MeetingID, ParticipantID, MatrixUserID, DisplayName, UserRegion,
	AppLibVersion, AppFocusVersion, AppName, AppMeetingRegion, AppShard, AppRegion,
	AppEnvironment, AppEnvType, AppBackendRelease,
	UserAgent, BrowserName, BrowserVersion, OSName, OSVersion, OSVersionName,
	ExternalAPI, InIframe,
}

// ErrMissing is wrapped by accessors when a nested part of the host state is absent.
var ErrMissing = errors.New("metrics: host state field missing")

// Accessor reads one fact from host state.
type Accessor func(s *host.State) (any, error)

// Catalog maps metric ids to accessors.
type Catalog map[ID]Accessor

// Resolve reads id from s. Unknown ids report ok=false with no error so that
// configs naming metrics from a newer catalog keep working.
func (c Catalog) Resolve(id ID, s *host.State) (value any, ok bool, err error) {
	accessor, found := c[id]
	if !found {
		return nil, false, nil
	}
	v, err := accessor(s)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Default is the catalog used by the bridge.
var Default = Catalog{
	MeetingURL: func(s *host.State) (any, error) {
		if s == nil {
			return nil, missing("state")
		}
		return s.Location, nil
	},
	MeetingID: analytics(func(a *host.AnalyticsProperties) any { return a.ConferenceName }),
	ParticipantID: func(s *host.State) (any, error) {
		c, err := conference(s)
		if err != nil {
			return nil, err
		}
		return c.MyUserID, nil
	},
	MatrixUserID: participant(func(p *host.Participant) any { return p.Email }),
	DisplayName:  participant(func(p *host.Participant) any { return p.Name }),
	UserRegion:   analytics(func(a *host.AnalyticsProperties) any { return a.UserRegion }),
	AppLibVersion: func(s *host.State) (any, error) {
		if s == nil {
			return nil, missing("state")
		}
		return s.LibVersion, nil
	},
	AppFocusVersion: func(s *host.State) (any, error) {
		c, err := conference(s)
		if err != nil {
			return nil, err
		}
		if c.ComponentsVersions == nil {
			return nil, missing("conference.componentsVersions")
		}
		v, ok := c.ComponentsVersions.Versions["focus"]
		if !ok {
			return nil, missing("conference.componentsVersions.versions.focus")
		}
		return v, nil
	},
	AppName:           analytics(func(a *host.AnalyticsProperties) any { return a.AppName }),
	AppMeetingRegion:  deployment(func(d *host.DeploymentInfo) any { return d.Region }),
	AppShard:          deployment(func(d *host.DeploymentInfo) any { return d.Shard }),
	AppRegion:         deployment(func(d *host.DeploymentInfo) any { return d.Region }),
	AppEnvironment:    deployment(func(d *host.DeploymentInfo) any { return d.Environment }),
	AppEnvType:        deployment(func(d *host.DeploymentInfo) any { return d.EnvType }),
	AppBackendRelease: deployment(func(d *host.DeploymentInfo) any { return d.BackendRelease }),
	UserAgent:         analytics(func(a *host.AnalyticsProperties) any { return a.UserAgent }),
	BrowserName:       browser(func(b host.Browser) (any, error) { return b.Name(), nil }),
	BrowserVersion:    browser(func(b host.Browser) (any, error) { return b.Version(), nil }),
	OSName:            operatingSystem(func(o *host.OSInfo) any { return o.Name }),
	OSVersion:         operatingSystem(func(o *host.OSInfo) any { return o.Version }),
	OSVersionName:     operatingSystem(func(o *host.OSInfo) any { return o.VersionName }),
	ExternalAPI:       analytics(func(a *host.AnalyticsProperties) any { return a.ExternalAPI }),
	InIframe:          analytics(func(a *host.AnalyticsProperties) any { return a.InIframe }),
}

// ParseIDs converts configured names to ids, keeping order.
// A nil input stays nil so callers can tell "unset" from "empty".
func ParseIDs(names []string) []ID {
	if names == nil {
		return nil
	}
	out := make([]ID, 0, len(names))
	for _, n := range names {
		out = append(out, ID(n))
	}
	return out
}

func missing(path string) error {
	return fmt.Errorf("%w: %s", ErrMissing, path)
}

func conference(s *host.State) (*host.Conference, error) {
	if s == nil || s.Conference == nil {
		return nil, missing("conference")
	}
	return s.Conference, nil
}

func analytics(read func(*host.AnalyticsProperties) any) Accessor {
	return func(s *host.State) (any, error) {
		if s == nil || s.Analytics == nil {
			return nil, missing("analytics.permanentProperties")
		}
		return read(s.Analytics), nil
	}
}

func participant(read func(*host.Participant) any) Accessor {
	return func(s *host.State) (any, error) {
		if s == nil || s.LocalParticipant == nil {
			return nil, missing("participants.local")
		}
		return read(s.LocalParticipant), nil
	}
}

func deployment(read func(*host.DeploymentInfo) any) Accessor {
	return func(s *host.State) (any, error) {
		if s == nil || s.Deployment == nil {
			return nil, missing("config.deploymentInfo")
		}
		return read(s.Deployment), nil
	}
}

func browser(read func(host.Browser) (any, error)) Accessor {
	return func(s *host.State) (any, error) {
		if s == nil || s.Browser == nil {
			return nil, missing("util.browser")
		}
		return read(s.Browser)
	}
}

func operatingSystem(read func(*host.OSInfo) any) Accessor {
	return browser(func(b host.Browser) (any, error) {
		os, err := b.OS()
		if err != nil {
			return nil, err
		}
		if os == nil {
			return nil, missing("util.browser.os")
		}
		return read(os), nil
	})
}
