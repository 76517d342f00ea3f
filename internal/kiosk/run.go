package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// FrameSource yields captured frames. io.EOF ends the stream.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// Run drives one attempt at the configured frame cadence until liveness passes, the
// source is exhausted, or the liveness timeout elapses, then finishes the attempt.
func (s *Service) Run(ctx context.Context, source FrameSource) (*Outcome, error) {
	sess, err := s.Start(ctx)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithTimeout(ctx, s.cfg.LivenessTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	frames := 0
loop:
	for {
		select {
		case <-loopCtx.Done():
			break loop
		case <-ticker.C:
		}

		frame, err := source.NextFrame(loopCtx)
		if errors.Is(err, io.EOF) {
			break loop
		}
		if err != nil {
			if loopCtx.Err() != nil {
				break loop
			}
			_ = s.Cancel(sess.ID)
			return nil, fmt.Errorf("read frame: %w", err)
		}
		frames++

		res, err := s.SubmitFrame(loopCtx, sess.ID, frame)
		if err != nil {
			if loopCtx.Err() != nil {
				break loop
			}
			_ = s.Cancel(sess.ID)
			return nil, err
		}
		log.WithFields(log.Fields{
			"session_id": sess.ID,
			"frame":      frames,
			"progress":   res.Progress,
			"reason":     res.Reason,
		}).Debug("Frame processed")
		if res.Done {
			break loop
		}
	}

	if ctx.Err() != nil {
		_ = s.Cancel(sess.ID)
		return nil, ctx.Err()
	}
	return s.Finish(ctx, sess.ID)
}

// DirectorySource replays image files from a directory in name order.
type DirectorySource struct {
	mu    sync.Mutex
	paths []string
	next  int
}

var frameExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// NewDirectorySource lists the frames stored in dir.
func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return &DirectorySource{paths: paths}, nil
}

// Len returns the number of frames in the source.
func (d *DirectorySource) Len() int {
	return len(d.paths)
}

func (d *DirectorySource) NextFrame(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= len(d.paths) {
		return nil, io.EOF
	}
	path := d.paths[d.next]
	d.next++
	return os.ReadFile(path)
}
