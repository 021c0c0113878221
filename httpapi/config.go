package httpapi

// Config defines HTTP API and UI settings.
type Config struct {
	Addr            string
	SessionCookie   string
	SessionTTLHours int
	BaseURL         string
	BasePath        string
	// SessionFile persists login sessions across restarts when set.
	SessionFile string
	// HistorySize bounds the per-session stream replay buffer.
	HistorySize int
}
