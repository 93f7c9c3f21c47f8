// Package errs defines common error variables used across the application.
package errs

import "errors"

// Batch errors.
var (
	// ErrInvalidConcurrency indicates that the concurrency limit is below one.
	ErrInvalidConcurrency = errors.New("concurrency limit must be at least 1")
	// ErrJobCancelled indicates that the job did not complete because the batch was cancelled.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrInternal indicates an unexpected failure inside a single job's execution path.
	ErrInternal = errors.New("internal error")
)

// Job list errors.
var (
	// ErrInvalidJobList indicates that the job list could not be turned into jobs.
	ErrInvalidJobList = errors.New("invalid job list")
	// ErrJobNameEmpty indicates that a job has no name.
	ErrJobNameEmpty = errors.New("job name is empty")
	// ErrJobNameInvalid indicates that a job name cannot be used as a filename stem.
	ErrJobNameInvalid = errors.New("job name is not a valid filename")
	// ErrJobNameDuplicate indicates that two jobs share a name.
	ErrJobNameDuplicate = errors.New("duplicate job name")
	// ErrInvalidURL indicates that the job source is missing or not an http(s) URL.
	ErrInvalidURL = errors.New("invalid url field")
)

// Fetcher errors.
var (
	// ErrFetchFailed indicates that the fetch capability could not produce the destination file.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrUnexpectedStatus indicates a non-2xx HTTP response.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
