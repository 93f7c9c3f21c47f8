// Package joblist loads and validates the job lists fed to the orchestrator.
package joblist

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"batchdl/internal/consts"
	"batchdl/internal/entity"
	"batchdl/internal/errs"
	"batchdl/pkg/urls"

	"gopkg.in/yaml.v3"
)

// LoadVideos reads a YAML sequence of {name, url} entries.
// Each job downloads into <outDir>/<name>.mp4.
func LoadVideos(path, outDir string) ([]entity.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errs.ErrInvalidJobList, path, err)
	}

	var jobs []entity.Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", errs.ErrInvalidJobList, path, err)
	}

	for i := range jobs {
		jobs[i].Name = strings.TrimSpace(jobs[i].Name)
		jobs[i].Source = urls.Normalize(jobs[i].Source)
		jobs[i].Destination = filepath.Join(outDir, jobs[i].Name+consts.VideoExt)
	}

	if err := Validate(jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// LoadURLs reads one URL per line, skipping blank lines.
// The n-th URL becomes job slide_<n> downloading into <outDir>/slide_<n>.jpg.
func LoadURLs(path, outDir string) ([]entity.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errs.ErrInvalidJobList, path, err)
	}

	var jobs []entity.Job

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name := consts.SlidePrefix + strconv.Itoa(len(jobs)+1)
		jobs = append(jobs, entity.Job{
			Name:        name,
			Source:      urls.Normalize(line),
			Destination: filepath.Join(outDir, name+consts.SlideExt),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", errs.ErrInvalidJobList, path, err)
	}

	if err := Validate(jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// Validate checks that every job has a usable unique name and an http(s) source.
func Validate(jobs []entity.Job) error {
	seen := make(map[string]int, len(jobs))

	for i, job := range jobs {
		pos := i + 1

		switch {
		case job.Name == "":
			return fmt.Errorf("%w: entry %d: %w", errs.ErrInvalidJobList, pos, errs.ErrJobNameEmpty)
		case job.Name == "." || job.Name == ".." || strings.ContainsAny(job.Name, `/\`):
			return fmt.Errorf("%w: entry %d %q: %w", errs.ErrInvalidJobList, pos, job.Name, errs.ErrJobNameInvalid)
		case !urls.IsValid(job.Source):
			return fmt.Errorf("%w: entry %d %q: %w", errs.ErrInvalidJobList, pos, job.Name, errs.ErrInvalidURL)
		}

		if first, ok := seen[job.Name]; ok {
			return fmt.Errorf("%w: entries %d and %d %q: %w",
				errs.ErrInvalidJobList, first, pos, job.Name, errs.ErrJobNameDuplicate)
		}

		seen[job.Name] = pos
	}

	return nil
}
