package store

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/event"
	"github.com/mistricky/pagepocket-sub000/internal/replay"
)

// ArchiveVersion is the on-disk capture archive format version.
const ArchiveVersion = "1.0"

// ArchivedResource is a StoredResource with its body pulled back out of the
// content store so the archive is self-contained.
type ArchivedResource struct {
	Request    event.NetworkEvent `json:"request"`
	Response   event.NetworkEvent `json:"response"`
	MimeType   string             `json:"mime_type,omitempty"`
	Body       string             `json:"body,omitempty"`
	BodyBase64 string             `json:"body_base64,omitempty"`
}

// ArchivedApiRecord is an ApiRecord plus the grouping attribution the
// manifest format deliberately omits; without it every record would fall
// back to the primary document group after a round trip.
type ArchivedApiRecord struct {
	replay.ApiRecord
	FrameID   string `json:"frame_id,omitempty"`
	Initiator string `json:"initiator,omitempty"`
}

// Archive is a completed capture session persisted between the capture and
// build steps.
type Archive struct {
	Version    string              `json:"version"`
	ID         string              `json:"id"`
	EntryURL   string              `json:"entry_url"`
	Note       string              `json:"note,omitempty"`
	CreatedAt  int64               `json:"created_at"` // epoch milliseconds
	Resources  []ArchivedResource  `json:"resources"`
	ApiRecords []ArchivedApiRecord `json:"api_records"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// GetDataPath returns the archive directory following the XDG spec,
// overridable with PAGEPOCKET_DATA.
func GetDataPath() (string, error) {
	if override := os.Getenv("PAGEPOCKET_DATA"); override != "" {
		return expandHomePath(override)
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "pagepocket"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "pagepocket"), nil
}

func expandHomePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// GenerateArchiveID creates a filesystem- and agent-friendly archive id.
func GenerateArchiveID(note string) string {
	base := time.Now().Format("20060102-150405")
	if note == "" {
		return base
	}
	sanitized := strings.ToLower(strings.ReplaceAll(note, " ", "-"))
	var b strings.Builder
	for _, r := range sanitized {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	sanitized = strings.TrimRight(b.String(), "-")
	if len(sanitized) > 30 {
		sanitized = sanitized[:30]
	}
	if sanitized == "" {
		return base
	}
	return base + "-" + sanitized
}

// BuildArchive drains the store into a self-contained archive.
func BuildArchive(id, entryURL, note string, ns *NetworkStore, cs *content.Store) (*Archive, error) {
	a := &Archive{
		Version:   ArchiveVersion,
		ID:        id,
		EntryURL:  entryURL,
		Note:      note,
		CreatedAt: time.Now().UnixMilli(),
		Warnings:  ns.Warnings(),
	}
	for _, rec := range ns.ApiRecords() {
		a.ApiRecords = append(a.ApiRecords, ArchivedApiRecord{
			ApiRecord: rec,
			FrameID:   rec.FrameID,
			Initiator: rec.Initiator,
		})
	}
	for _, res := range ns.Resources() {
		body, err := cs.ReadAll(res.Ref)
		if err != nil {
			return nil, fmt.Errorf("read body for %s: %w", res.Response.URL, err)
		}
		ar := ArchivedResource{
			Request:  res.Request,
			Response: res.Response,
			MimeType: res.MimeType,
		}
		if utf8.Valid(body) && !IsBinaryMime(res.MimeType) {
			ar.Body = string(body)
		} else {
			ar.BodyBase64 = base64.StdEncoding.EncodeToString(body)
		}
		a.Resources = append(a.Resources, ar)
	}
	return a, nil
}

// ReplayRecords unwraps the archived API records with their attribution
// restored, ready for the snapshot builder.
func (a *Archive) ReplayRecords() []replay.ApiRecord {
	out := make([]replay.ApiRecord, 0, len(a.ApiRecords))
	for _, ar := range a.ApiRecords {
		rec := ar.ApiRecord
		rec.FrameID = ar.FrameID
		rec.Initiator = ar.Initiator
		out = append(out, rec)
	}
	return out
}

// Restore loads archived bodies back into a content store and returns the
// stored resources, ready for the snapshot builder.
func (a *Archive) Restore(cs *content.Store) ([]StoredResource, error) {
	var out []StoredResource
	for _, ar := range a.Resources {
		var body []byte
		if ar.BodyBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(ar.BodyBase64)
			if err != nil {
				return nil, fmt.Errorf("decode body for %s: %w", ar.Response.URL, err)
			}
			body = decoded
		} else {
			body = []byte(ar.Body)
		}
		ref, err := cs.Put(body, content.Meta{URL: ar.Response.URL, MimeType: ar.MimeType})
		if err != nil {
			return nil, fmt.Errorf("restore body for %s: %w", ar.Response.URL, err)
		}
		out = append(out, StoredResource{
			Request:  ar.Request,
			Response: ar.Response,
			Ref:      ref,
			Size:     int64(len(body)),
			MimeType: ar.MimeType,
		})
	}
	return out, nil
}

// Save writes the archive under the data directory as <id>.json.
func (a *Archive) Save() (string, error) {
	dir, err := GetDataPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := sonic.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal archive: %w", err)
	}
	path := filepath.Join(dir, a.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

// LoadArchive reads an archive from an explicit path or, failing that, by
// id (exact or prefix) from the data directory.
func LoadArchive(ref string) (*Archive, error) {
	if data, err := os.ReadFile(ref); err == nil {
		return parseArchive(data)
	}
	dir, err := GetDataPath()
	if err != nil {
		return nil, err
	}
	ids, err := ListArchives()
	if err != nil {
		return nil, err
	}
	for _, pass := range []func(string) bool{
		func(id string) bool { return id == ref },
		func(id string) bool { return strings.HasPrefix(id, ref) },
	} {
		for _, id := range ids {
			if pass(id) {
				data, err := os.ReadFile(filepath.Join(dir, id+".json"))
				if err != nil {
					return nil, fmt.Errorf("failed to read archive: %w", err)
				}
				return parseArchive(data)
			}
		}
	}
	return nil, fmt.Errorf("archive not found: %s", ref)
}

func parseArchive(data []byte) (*Archive, error) {
	var a Archive
	if err := sonic.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse archive: %w", err)
	}
	return &a, nil
}

// ListArchives returns saved archive ids, newest first.
func ListArchives() ([]string, error) {
	dir, err := GetDataPath()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}
