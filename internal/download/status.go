package download

// Status is the lifecycle state of one download.
type Status int

const (
	StatusRequested Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRequested:
		return next == StatusDownloading || next == StatusFailed || next == StatusCancelled
	case StatusDownloading:
		return next == StatusPaused || next.IsTerminal()
	case StatusPaused:
		return next == StatusDownloading || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// ContentType distinguishes episode downloads from movies.
type ContentType string

const (
	ContentEpisode ContentType = "episode"
	ContentMovie   ContentType = "movie"
)

// Transport is the strategy chosen for a URL.
type Transport string

const (
	TransportHLS     Transport = "hls"
	TransportFile    Transport = "file"
	TransportGeneric Transport = "generic"
)
