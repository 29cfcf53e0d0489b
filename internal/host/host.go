// Package host describes what the conferencing client exposes to analytics handlers:
// the events it dispatches, the state metric accessors read, and the handler registry.
package host

// Event is a single analytics event as dispatched by the conferencing client.
type Event struct {
	Action        string
	ActionSubject string
	// Attributes is set for feedback events only.
	Attributes *FeedbackAttributes
}

// FeedbackAttributes carries what the user entered in the feedback dialog.
type FeedbackAttributes struct {
	Rating  int
	Comment string
}

// Host is the conferencing client as seen by the bridge.
type Host interface {
	// State returns the current client state. Nested fields may be nil when the
	// deployment or client version does not expose them.
	State() *State
	// IdentityCredential returns the signed identity token the client joined with.
	IdentityCredential() string
	// EnableFeedbackOnLeave marks the conference as eligible for the end-of-call feedback dialog.
	EnableFeedbackOnLeave() error
}

// State is a read-only snapshot of client state.
type State struct {
	// Location is the current meeting URL.
	Location string
	// LibVersion is the conferencing library version.
	LibVersion       string
	Conference       *Conference
	LocalParticipant *Participant
	Analytics        *AnalyticsProperties
	Browser          Browser
	Deployment       *DeploymentInfo
}

// Conference is the joined conference.
type Conference struct {
	MyUserID           string
	ComponentsVersions *ComponentsVersions
}

// ComponentsVersions maps server component names (e.g. "focus") to versions.
type ComponentsVersions struct {
	Versions map[string]string
}

// Participant is the local participant descriptor.
type Participant struct {
	Email string
	Name  string
}

// AnalyticsProperties are the permanent analytics properties set by the client.
type AnalyticsProperties struct {
	ConferenceName string
	UserRegion     string
	AppName        string
	UserAgent      string
	ExternalAPI    bool
	InIframe       bool
}

// DeploymentInfo is the deployment descriptor from client config.
type DeploymentInfo struct {
	Region         string
	Shard          string
	Environment    string
	EnvType        string
	BackendRelease string
}

// Browser is the client's browser detection utility.
type Browser interface {
	Name() string
	Version() string
	// OS parses the operating system from the user agent.
	OS() (*OSInfo, error)
}

// OSInfo is the parsed operating system.
type OSInfo struct {
	Name        string
	Version     string
	VersionName string
}
