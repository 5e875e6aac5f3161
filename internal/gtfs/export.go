package gtfs

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/klauspost/compress/zip"
)

// ManifestEntry describes one file of an exported snapshot.
type ManifestEntry struct {
	Path      string    `json:"path"`
	Feed      string    `json:"feed,omitempty"`
	Category  string    `json:"category,omitempty"`
	Source    string    `json:"source,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	Bytes     int       `json:"bytes"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Manifest is written as manifest.json at the root of the export.
type Manifest struct {
	ExportedAt time.Time       `json:"exportedAt"`
	Files      []ManifestEntry `json:"files"`
}

// ExportRawSnapshot packs the last schedule archive and the last payload of
// every feed category, as received, into one zip. The payloads are not
// interpreted.
func (e *Engine) ExportRawSnapshot(ctx context.Context) ([]byte, error) {
	e.rawMu.Lock()
	schedule, scheduleAt, scheduleSum := e.rawSchedule, e.rawScheduleAt, e.rawScheduleSum
	keys := make([]feedKey, 0, len(e.rawFeeds))
	payloads := make(map[feedKey]rawPayload, len(e.rawFeeds))
	for k, v := range e.rawFeeds {
		keys = append(keys, k)
		payloads[k] = v
	}
	e.rawMu.Unlock()

	slices.SortFunc(keys, func(a, b feedKey) int {
		return cmp.Or(cmp.Compare(a.Feed, b.Feed), cmp.Compare(a.Category, b.Category))
	})

	manifest := Manifest{ExportedAt: e.clock.Now().UTC(), Files: []ManifestEntry{}}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name string, data []byte, modified time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	if schedule != nil {
		if err := write("schedule/gtfs.zip", schedule, scheduleAt); err != nil {
			return nil, fmt.Errorf("writing schedule: %w", err)
		}
		manifest.Files = append(manifest.Files, ManifestEntry{
			Path:      "schedule/gtfs.zip",
			Source:    e.config.GtfsURL,
			SHA256:    scheduleSum,
			Bytes:     len(schedule),
			FetchedAt: scheduleAt.UTC(),
		})
	}

	for _, k := range keys {
		p := payloads[k]
		name := path.Join("realtime", k.Feed, string(k.Category)+".pb")
		if err := write(name, p.body, p.fetchedAt); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
		manifest.Files = append(manifest.Files, ManifestEntry{
			Path:      name,
			Feed:      k.Feed,
			Category:  string(k.Category),
			Bytes:     len(p.body),
			FetchedAt: p.fetchedAt.UTC(),
		})
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := write("manifest.json", manifestJSON, manifest.ExportedAt); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
