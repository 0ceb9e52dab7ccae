// Package tasks normalizes vendor task records into one canonical model.
//
// Download Station firmwares disagree about field names, status vocabularies
// and even whether status is a string or a state code. Everything here is a
// pure mapping; raw vendor payloads never leave this package.
package tasks

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Vendor selects the dialect a raw record is interpreted with. It is always
// supplied by the caller, never auto-detected.
type Vendor string

const (
	VendorQNAP     Vendor = "qnap"
	VendorSynology Vendor = "synology"
)

// Status is the canonical task state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusSeeding     Status = "seeding"
	StatusPaused      Status = "paused"
	StatusStopped     Status = "stopped"
	StatusChecking    Status = "checking"
	StatusRepairing   Status = "repairing"
	StatusExtracting  Status = "extracting"
	StatusFinishing   Status = "finishing"
	StatusFinished    Status = "finished"
	StatusError       Status = "error"
)

// ConnStat counts connected peers or seeds, with the swarm total when the
// vendor reports one.
type ConnStat struct {
	Connected int64
	Total     *int64
}

// Task is the unified representation of one download job.
type Task struct {
	ID              string
	Name            string
	Status          Status
	Progress        float64 // always within [0,100]
	SizeBytes       int64
	DownloadedBytes int64
	UploadedBytes   int64
	DownSpeedBps    float64
	UpSpeedBps      float64
	Seeds           *ConnStat
	Peers           *ConnStat
	EtaSec          *int64
	Hash            string
	AddedAt         *int64 // epoch milliseconds
	Source          Vendor
}

var qnapStatusNames = map[string]Status{
	"queued":      StatusQueued,
	"waiting":     StatusQueued,
	"downloading": StatusDownloading,
	"seeding":     StatusSeeding,
	"paused":      StatusPaused,
	"stopped":     StatusStopped,
	"checking":    StatusChecking,
	"repairing":   StatusRepairing,
	"extracting":  StatusExtracting,
	"finishing":   StatusFinishing,
	"finished":    StatusFinished,
	"complete":    StatusFinished,
	"error":       StatusError,
}

var qnapStatusCodes = map[int]Status{
	0:   StatusQueued,
	1:   StatusQueued,
	2:   StatusDownloading,
	3:   StatusPaused,
	4:   StatusError,
	5:   StatusFinished,
	6:   StatusDownloading,
	7:   StatusError,
	8:   StatusFinishing,
	9:   StatusChecking,
	100: StatusSeeding,
	101: StatusChecking,
	102: StatusChecking,
	103: StatusFinishing,
	104: StatusDownloading,
	105: StatusSeeding,
}

var synologyStatusNames = map[string]Status{
	"waiting":       StatusQueued,
	"downloading":   StatusDownloading,
	"seeding":       StatusSeeding,
	"paused":        StatusPaused,
	"stopped":       StatusStopped,
	"hash_checking": StatusChecking,
	"repairing":     StatusRepairing,
	"extracting":    StatusExtracting,
	"finishing":     StatusFinishing,
	"finished":      StatusFinished,
	"error":         StatusError,
}

var synologyStatusCodes = map[int]Status{
	0: StatusQueued,
	1: StatusDownloading,
	2: StatusDownloading,
	3: StatusSeeding,
	4: StatusPaused,
	5: StatusFinished,
}

// MapStatus resolves a raw vendor status into the canonical enum. The
// numeric table is consulted first so firmwares reporting state codes work;
// the lower-cased name table handles the rest. Unknown inputs map to queued.
func MapStatus(vendor Vendor, raw any) Status {
	key := strings.ToLower(strings.TrimSpace(str(raw)))

	codes, names := qnapStatusCodes, qnapStatusNames
	if vendor == VendorSynology {
		codes, names = synologyStatusCodes, synologyStatusNames
	}

	if n, err := strconv.Atoi(key); err == nil {
		if s, ok := codes[n]; ok {
			return s
		}
	}
	if s, ok := names[key]; ok {
		return s
	}
	return StatusQueued
}

// Normalize maps a raw query payload (decoded JSON) into canonical tasks.
// The task list may sit under "data", "tasks" or "result"; the first array
// found wins, otherwise the result is empty.
func Normalize(vendor Vendor, payload any) []Task {
	list := extractList(payload)
	out := make([]Task, 0, len(list))
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if vendor == VendorSynology {
			out = append(out, normalizeSynology(rec))
		} else {
			out = append(out, normalizeQNAP(rec))
		}
	}
	return out
}

func extractList(payload any) []any {
	if list, ok := payload.([]any); ok {
		return list
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"data", "tasks", "result"} {
		if list, ok := m[key].([]any); ok {
			return list
		}
	}
	return nil
}

func normalizeQNAP(rec map[string]any) Task {
	size := int64(firstNum(rec, "total_size", "size"))
	downloaded := int64(firstNum(rec, "total_down", "done", "down_size", "completed"))
	uploaded := int64(firstNum(rec, "total_up", "up_size", "uploaded_size", "uploaded"))

	t := Task{
		ID:              firstStr(rec, "id", "gid", "hash"),
		Name:            firstStr(rec, "name", "title", "source", "source_name"),
		Status:          MapStatus(VendorQNAP, first(rec, "status", "state")),
		Progress:        resolveProgress(num(rec["progress"], -1), downloaded, size),
		SizeBytes:       size,
		DownloadedBytes: downloaded,
		UploadedBytes:   uploaded,
		DownSpeedBps:    firstNum(rec, "down_rate", "download_speed"),
		UpSpeedBps:      firstNum(rec, "up_rate", "upload_speed"),
		Seeds:           connStat(rec, []string{"seeds", "seeds_connected"}, "seeds_total"),
		Peers:           connStat(rec, []string{"peers", "peers_connected"}, "peers_total"),
		Hash:            firstStr(rec, "hash", "bt_hash"),
		AddedAt:         parseAddedAt(first(rec, "create_time", "created", "added_time", "start_time")),
		Source:          VendorQNAP,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Name == "" {
		t.Name = "task"
	}
	if eta, ok := optNum(first(rec, "eta")); ok && eta >= 0 {
		v := int64(eta)
		t.EtaSec = &v
	} else if remain, ok := optNum(first(rec, "remain_time")); ok && remain >= 0 {
		v := int64(remain)
		t.EtaSec = &v
	}
	return t
}

func normalizeSynology(rec map[string]any) Task {
	transfer := nested(rec, "additional", "transfer")
	detail := nested(rec, "additional", "detail")

	size := int64(firstNum(rec, "size"))
	if size == 0 {
		size = int64(num(transfer["size"], 0))
	}
	downloaded := int64(num(transfer["size_downloaded"], 0))
	progress := resolveProgress(num(transfer["progress"], -1), downloaded, size)

	t := Task{
		ID:              firstStr(rec, "id", "task_id", "hash"),
		Name:            firstStr(rec, "title", "display_name"),
		Status:          MapStatus(VendorSynology, rec["status"]),
		Progress:        progress,
		SizeBytes:       size,
		DownloadedBytes: downloaded,
		UploadedBytes:   int64(num(transfer["size_uploaded"], 0)),
		DownSpeedBps:    num(transfer["speed_download"], 0),
		UpSpeedBps:      num(transfer["speed_upload"], 0),
		Hash:            firstStr(rec, "hash"),
		Source:          VendorSynology,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Name == "" {
		t.Name = str(detail["destination"])
	}
	if t.Name == "" {
		t.Name = "task"
	}
	if t.Hash == "" {
		t.Hash = firstStr(detail, "uri", "destination")
	}

	seeds := &ConnStat{Connected: int64(num(detail["connected_seeders"], 0))}
	if total, ok := optNum(detail["seeders"]); ok {
		v := int64(total)
		seeds.Total = &v
	}
	t.Seeds = seeds

	peers := &ConnStat{Connected: int64(num(detail["connected_leechers"], 0))}
	if total, ok := optNum(detail["leechers"]); ok {
		v := int64(total)
		peers.Total = &v
	}
	t.Peers = peers

	if eta, ok := optNum(transfer["eta"]); ok {
		v := int64(eta)
		t.EtaSec = &v
	}
	if created, ok := optNum(detail["create_time"]); ok {
		t.AddedAt = epochMillis(created)
	}
	return t
}

// resolveProgress keeps a vendor-reported percentage only when it is already
// within [0,100]; anything else is derived from downloaded/size.
func resolveProgress(reported float64, downloaded, size int64) float64 {
	if reported >= 0 && reported <= 100 {
		return reported
	}
	if size > 0 {
		return clampProgress(float64(downloaded) / float64(size) * 100)
	}
	return 0
}

func clampProgress(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

// parseAddedAt converts a vendor creation time into epoch milliseconds.
// Numbers above 1e12 are already milliseconds, below are unix seconds.
// Strings use the vendor date format with dots as separators. Unparseable
// values yield nil.
func parseAddedAt(v any) *int64 {
	if v == nil {
		return nil
	}
	if n, ok := optNum(v); ok {
		return epochMillis(n)
	}
	s := strings.TrimSpace(str(v))
	if s == "" {
		return nil
	}
	for _, layout := range []string{
		"2006.01.02 15:04:05",
		"2006.01.02 15:04",
		"2006/01/02 15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ms := t.UnixMilli()
			return &ms
		}
	}
	return nil
}

func epochMillis(n float64) *int64 {
	var ms int64
	if n > 1e12 {
		ms = int64(n)
	} else {
		ms = int64(n) * 1000
	}
	return &ms
}

func connStat(rec map[string]any, connected []string, totalKey string) *ConnStat {
	cs := &ConnStat{Connected: int64(firstNum(rec, connected...))}
	if total, ok := optNum(rec[totalKey]); ok {
		v := int64(total)
		cs.Total = &v
	}
	return cs
}

func nested(rec map[string]any, keys ...string) map[string]any {
	current := rec
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		current = next
	}
	return current
}

func first(rec map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := rec[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstStr(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(str(rec[key])); s != "" {
			return s
		}
	}
	return ""
}

func firstNum(rec map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if n, ok := optNum(rec[key]); ok {
			return n
		}
	}
	return 0
}

func num(v any, fallback float64) float64 {
	if n, ok := optNum(v); ok {
		return n
	}
	return fallback
}

func optNum(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}
