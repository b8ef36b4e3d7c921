package model

// Session mirrors a record of the notebook server's /api/sessions listing.
// Fields not listed here are dropped on decode.
type Session struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Kernel   *Kernel   `json:"kernel"`
	Notebook *Notebook `json:"notebook,omitempty"`
}

// Kernel is the kernel a session is bound to.
type Kernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LastActivity   string `json:"last_activity,omitempty"`
	ExecutionState string `json:"execution_state,omitempty"`
	Connections    int    `json:"connections"`
}

// Notebook is only present on sessions created through the classic notebook API.
type Notebook struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// KernelID returns the id of the bound kernel, or "" when the session has no
// live kernel.
func (s Session) KernelID() string {
	if s.Kernel == nil {
		return ""
	}
	return s.Kernel.ID
}
