// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultSimulateTime is the default time to simulate a download in the mock fetcher.
	DefaultSimulateTime = 1 * time.Second
	// DefaultProgressFreq is how often fetchers forward progress samples.
	DefaultProgressFreq = 200 * time.Millisecond
	// DefaultLogProgressFreq is how often the log reporter emits a record for one job.
	DefaultLogProgressFreq = 5 * time.Second
	// DefaultRunTimestamp is the layout used for timestamped output and log names.
	DefaultRunTimestamp = "20060102_150405"
)

// Process names. They select the config.yaml section and name the output directories.
const (
	// ProcessVideo downloads videos listed in a YAML file.
	ProcessVideo = "video"
	// ProcessSlides downloads slide images listed in a text file.
	ProcessSlides = "slides"
)

// File naming.
const (
	// VideoExt is the extension of downloaded videos.
	VideoExt = ".mp4"
	// SlideExt is the extension of downloaded slides.
	SlideExt = ".jpg"
	// SlidePrefix is the name prefix of slide jobs.
	SlidePrefix = "slide_"
	// PartSuffix marks files that are still being written.
	PartSuffix = ".part"
)

// Fetcher identifiers.
const (
	// FetcherYTdlp is the yt-dlp fetcher identifier.
	FetcherYTdlp = "ytdlp"
	// FetcherHTTP is the plain HTTP fetcher identifier.
	FetcherHTTP = "http"
	// FetcherMock is the mock fetcher identifier for dry runs and tests.
	FetcherMock = "mock"
)

// Progress modes.
const (
	// ProgressBar renders one terminal progress bar per job.
	ProgressBar = "bar"
	// ProgressLog writes progress as log records.
	ProgressLog = "log"
	// ProgressNone disables progress output.
	ProgressNone = "none"
)

// Summary markers.
const (
	// MarkOK prefixes succeeded jobs in the summary.
	MarkOK = "✔"
	// MarkFail prefixes failed jobs in the summary.
	MarkFail = "✘"
)
