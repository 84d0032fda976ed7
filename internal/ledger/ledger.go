// Copyright 2025 James Ross
package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/obs"
	"go.uber.org/zap"
)

const schemaVersion = 1

// snapshotMeta is the metadata block of an on-disk LedgerSnapshot.
type snapshotMeta struct {
	CreatedAt     time.Time `json:"created_at"`
	EntryCount    int       `json:"entry_count"`
	SchemaVersion int       `json:"schema_version"`
}

// snapshotFile is the full on-disk shape of a ledger snapshot. Entries
// are keyed by the in-memory index's key(docID, adapter) string (adapter,
// a NUL byte, then doc_id) so the map stays a simple JSON object without
// a nested composite-key struct.
type snapshotFile struct {
	Metadata snapshotMeta     `json:"metadata"`
	Entries  map[string]Entry `json:"entries"`
}

// Ledger is the durable, append-only record of every document's
// progress through the pipeline. It is the sole source of truth for
// --resume/--force decisions and for the audit-history testable
// properties; everything else (event streams, in-memory caches) is
// advisory.
type Ledger struct {
	mu      sync.Mutex
	cfg     config.Ledger
	log     *zap.Logger
	logFile *os.File

	current map[string]Entry   // key(docID, adapter) -> latest entry
	history map[string][]Entry // key(docID, adapter) -> full audit trail

	writesSinceCompact int
	dedup              DedupCache
}

// New opens (or creates) the ledger's log file, replays it plus any
// existing snapshot to rebuild in-memory state, and returns a ready
// Ledger. The returned Ledger owns logFile for the remainder of the
// process; callers must call Close on shutdown.
func New(cfg config.Ledger, log *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create log directory: %w", err)
	}

	l := &Ledger{
		cfg:     cfg,
		log:     log,
		current: make(map[string]Entry),
		history: make(map[string][]Entry),
		dedup:   NewMemoryDedupCache(),
	}

	if err := l.loadSnapshot(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open log file: %w", err)
	}
	l.logFile = f

	if err := l.replayLog(cfg.LogPath); err != nil {
		f.Close()
		return nil, err
	}

	for _, e := range l.current {
		if e.State == Completed {
			_ = l.dedup.MarkCompleted(context.Background(), e.Adapter, e.DocID)
		}
	}

	l.refreshStuckGauge()
	return l, nil
}

// SetDedupCache overrides the default in-memory dedup cache, e.g. with a
// RedisDedupCache shared across processes.
func (l *Ledger) SetDedupCache(d DedupCache) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dedup = d
}

// Dedup exposes the active DedupCache so the driver can consult it.
func (l *Ledger) Dedup() DedupCache {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dedup
}

// ForceReset clears (docID, adapter)'s current-state pointer so the next
// Record call is evaluated as a transition from Pending, letting --force
// reprocess a document that previously reached a terminal state. The
// audit history (and the prior terminal entry within it) is untouched;
// only the latest-state index used to pick `from` in Record is cleared.
func (l *Ledger) ForceReset(docID, adapter string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.current, key(docID, adapter))
}

// Record validates and applies a state transition, appends it to the
// durable log with an fsync, and updates in-memory state. A transition
// rejected by the state machine returns *InvalidStateTransition and
// changes nothing.
func (l *Ledger) Record(docID, adapter string, to State, attempt int, entryErr *EntryError, metadata map[string]string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(docID, adapter)
	from := Pending
	if prev, ok := l.current[k]; ok {
		from = prev.State
	}

	if !IsValidTransition(from, to) {
		return Entry{}, &InvalidStateTransition{DocID: docID, Adapter: adapter, From: from, To: to}
	}

	entry := Entry{
		DocID:     docID,
		Adapter:   adapter,
		State:     to,
		StateName: to.String(),
		UpdatedAt: time.Now(),
		Attempt:   attempt,
		Error:     entryErr,
		Metadata:  metadata,
	}

	if err := l.appendLine(entry); err != nil {
		return Entry{}, err
	}

	l.current[k] = entry
	l.history[k] = append(l.history[k], entry)
	l.writesSinceCompact++

	if to == Completed {
		_ = l.dedup.MarkCompleted(context.Background(), adapter, docID)
	}

	if l.cfg.CompactEvery > 0 && l.writesSinceCompact >= l.cfg.CompactEvery {
		if err := l.compactLocked(); err != nil && l.log != nil {
			l.log.Warn("ledger compaction failed", zap.Error(err))
		}
	}

	return entry, nil
}

// appendLine writes one NDJSON line and fsyncs before returning, so a
// crash can never lose an acknowledged transition.
func (l *Ledger) appendLine(e Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: marshal entry: %w", err)
	}
	buf = append(buf, '\n')
	if _, err := l.logFile.Write(buf); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	return l.logFile.Sync()
}

// Get returns the latest entry for (docID, adapter).
func (l *Ledger) Get(docID, adapter string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.current[key(docID, adapter)]
	return e, ok
}

// Entries returns every tracked (docID, adapter) pair's latest entry.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.current))
	for _, e := range l.current {
		out = append(out, e)
	}
	return out
}

// DocumentsInState returns every latest entry currently in state s.
func (l *Ledger) DocumentsInState(s State) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.current {
		if e.State == s {
			out = append(out, e)
		}
	}
	return out
}

// Stuck returns every non-terminal, non-pending entry whose last update
// is older than threshold — the ingestion analogue of the teacher's
// reaper scan for abandoned processing-list entries.
func (l *Ledger) Stuck(threshold time.Duration) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var out []Entry
	for _, e := range l.current {
		if TerminalStates[e.State] {
			continue
		}
		if e.UpdatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// History returns the ordered audit trail recorded for (docID, adapter).
// After a restart from a snapshot, the trail begins with the entry the
// snapshot holds for the pair; transitions compacted into that snapshot
// are not kept.
func (l *Ledger) History(docID, adapter string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.history[key(docID, adapter)]
	out := make([]Entry, len(h))
	copy(out, h)
	return out
}

// refreshStuckGauge publishes the current stuck-entry count; New calls
// it once after replay.
func (l *Ledger) refreshStuckGauge() {
	obs.LedgerStuckEntries.Set(float64(len(l.Stuck(l.cfg.StuckThreshold))))
}

// Close fsyncs and closes the underlying log file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	_ = l.logFile.Sync()
	return l.logFile.Close()
}

// replayLog reads every NDJSON line appended since the last snapshot
// (or the whole file, if no snapshot exists) and rebuilds in-memory
// state. A line that fails to parse is LedgerCorruption, not a silent
// skip.
func (l *Ledger) replayLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: open log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw struct {
			DocID     string            `json:"doc_id"`
			Adapter   string            `json:"adapter"`
			State     string            `json:"state"`
			UpdatedAt time.Time         `json:"updated_at"`
			Attempt   int               `json:"attempt"`
			Error     *EntryError       `json:"error,omitempty"`
			Metadata  map[string]string `json:"metadata,omitempty"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			return &LedgerCorruption{Path: path, Line: lineNum, Err: err}
		}
		st, ok := ParseState(raw.State)
		if !ok {
			return &LedgerCorruption{Path: path, Line: lineNum, Err: fmt.Errorf("unknown state %q", raw.State)}
		}
		e := Entry{
			DocID: raw.DocID, Adapter: raw.Adapter, State: st, StateName: st.String(),
			UpdatedAt: raw.UpdatedAt, Attempt: raw.Attempt, Error: raw.Error, Metadata: raw.Metadata,
		}
		k := key(e.DocID, e.Adapter)
		l.current[k] = e
		l.history[k] = append(l.history[k], e)
	}
	if err := scanner.Err(); err != nil {
		return &LedgerCorruption{Path: path, Line: lineNum, Err: err}
	}
	return nil
}

// loadSnapshot loads the last compacted snapshot, if one exists, into
// in-memory state ahead of replaying the post-snapshot delta log.
func (l *Ledger) loadSnapshot() error {
	if l.cfg.SnapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.cfg.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: read snapshot: %w", err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return &LedgerCorruption{Path: l.cfg.SnapshotPath, Err: err}
	}
	for k, e := range snap.Entries {
		st, ok := ParseState(e.StateName)
		if !ok {
			return &LedgerCorruption{Path: l.cfg.SnapshotPath, Err: fmt.Errorf("unknown state %q", e.StateName)}
		}
		e.State = st
		l.current[k] = e
		l.history[k] = []Entry{e}
	}
	return nil
}

// compactLocked snapshots current state to disk atomically (temp file,
// fsync, rename), rotates prior generations behind it (retain last
// SnapshotRetain, default 7), and truncates the log. Caller must hold l.mu.
func (l *Ledger) compactLocked() error {
	if l.cfg.SnapshotPath == "" {
		return nil
	}
	snap := snapshotFile{
		Metadata: snapshotMeta{CreatedAt: time.Now(), EntryCount: len(l.current), SchemaVersion: schemaVersion},
		Entries:  make(map[string]Entry, len(l.current)),
	}
	for k, e := range l.current {
		snap.Entries[k] = e
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal snapshot: %w", err)
	}
	if err := l.rotateSnapshots(); err != nil {
		return err
	}
	if err := writeAtomic(l.cfg.SnapshotPath, data); err != nil {
		return err
	}

	// Truncate the append log now that its contents are captured in the
	// snapshot: from here on it holds only the delta since this
	// compaction, per the snapshot+delta-log design.
	if l.logFile != nil {
		if err := l.logFile.Truncate(0); err != nil {
			return fmt.Errorf("ledger: truncate log after compaction: %w", err)
		}
		if _, err := l.logFile.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("ledger: seek log after compaction: %w", err)
		}
	}

	l.writesSinceCompact = 0
	obs.LedgerCompactions.Inc()
	return nil
}

// rotateSnapshots shifts existing snapshot generations up by one slot
// (snapshot.json -> .1 -> .2 -> ...), dropping whatever falls past
// SnapshotRetain, so the subsequent writeAtomic always lands a fresh
// snapshot at the bare SnapshotPath. Caller must hold l.mu.
func (l *Ledger) rotateSnapshots() error {
	retain := l.cfg.SnapshotRetain
	if retain <= 0 {
		retain = 1
	}
	path := l.cfg.SnapshotPath

	oldest := fmt.Sprintf("%s.%d", path, retain)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ledger: drop oldest snapshot generation: %w", err)
	}
	for i := retain - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		dst := fmt.Sprintf("%s.%d", path, i+1)
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ledger: rotate snapshot generation %d: %w", i, err)
		}
	}
	if err := os.Rename(path, path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ledger: rotate current snapshot: %w", err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the same directory as path,
// fsyncs it, then renames it over path — the rename-swap pattern used
// throughout the corpus for crash-safe single-file writes.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: create snapshot directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp.%s", path, uuid.New().String())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("ledger: write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("ledger: fsync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: rename temp snapshot: %w", err)
	}
	return nil
}

// Compact forces an out-of-band snapshot compaction, outside the
// CompactEvery cadence, so a restart has a fresh baseline.
func (l *Ledger) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compactLocked()
}
