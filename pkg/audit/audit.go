// Package audit records wallet operations in an append-only JSONL log
// whose records are chained with HMAC-SHA256 for tamper detection.
//
// User ids are never written in clear; each record carries an HMAC of the
// id so operators can correlate events for one user without the log
// itself identifying them. Secrets never reach this package.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/botwallet/pkg/atomicfile"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// Operation types for audit logging
const (
	OpWalletCreate         = "wallet.create"
	OpWalletSigner         = "wallet.signer"
	OpWalletExportKey      = "wallet.export_key"
	OpWalletExportMnemonic = "wallet.export_mnemonic"
	OpWalletWithdraw       = "wallet.withdraw"
	OpWalletRename         = "wallet.rename"
	OpWalletActivate       = "wallet.activate"
	OpWalletVerify         = "wallet.verify"
	OpWalletMigrate        = "wallet.migrate"
	OpWalletIndexRebuild   = "wallet.index_rebuild"
	OpRateLimitDenied      = "ratelimit.denied"
)

// Source identifies where the operation originated
const (
	SourceBot = "bot"
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	genesisHash    = "genesis"
	chainStateFile = "audit.meta"
	hkdfInfo       = "botwallet-audit-v1"
)

// ErrKeyNotSet is returned when logging before SetHMACKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is one audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // UUIDv7, time-ordered
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	UserHMAC  string `json:"user,omitempty"`
	WalletID  string `json:"wallet,omitempty"`
	Source    string `json:"source"`
	SessionID string `json:"session"`

	Result string         `json:"result"`
	Error  *ErrorInfo     `json:"error,omitempty"`
	Fields map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Entry is what callers supply; the logger fills in ids, time and chain.
type Entry struct {
	Operation string
	Source    string
	UserID    string
	WalletID  string
	Result    string
	Error     *ErrorInfo
	Fields    map[string]any
}

// Logger handles audit log writing with HMAC chain
type Logger struct {
	path       string
	hmacKey    []byte
	mu         sync.Mutex
	sequence   int64
	prevHash   string
	sessionID  string
	hmacKeySet bool
	now        func() time.Time
}

// NewLogger creates a logger writing under path. SetHMACKey must be called
// before the first Log.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		prevHash:  genesisHash,
		sessionID: generateSessionID(),
		now:       time.Now,
	}
}

// SetHMACKey derives the chain key from secret using HKDF-SHA256 and loads
// any persisted chain state.
func (l *Logger) SetHMACKey(secret []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	l.hmacKey = make([]byte, 32)
	if _, err := io.ReadFull(r, l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKeySet = true

	if err := l.loadChainState(); err != nil {
		// First run, nothing persisted yet
		l.sequence = 0
		l.prevHash = genesisHash
	}
	return nil
}

// Log appends one record and persists the chain state.
func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return ErrKeyNotSet
	}

	if err := atomicfile.EnsureDir(l.path); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	now := l.now().UTC()
	event := Event{
		Version:   1,
		ID:        newEventID(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: e.Operation,
		WalletID:  e.WalletID,
		Source:    e.Source,
		SessionID: l.sessionID,
		Result:    e.Result,
		Error:     e.Error,
		Fields:    e.Fields,
	}
	if e.UserID != "" {
		event.UserHMAC = l.UserHMAC(e.UserID)
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(&event)

	if err := l.writeEvent(&event, now); err != nil {
		return err
	}

	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

// LogRateLimited records that the limiter refused op.
func (l *Logger) LogRateLimited(op, source, userID, walletID, reason string) error {
	return l.Log(Entry{
		Operation: OpRateLimitDenied, Source: source, UserID: userID, WalletID: walletID,
		Result: ResultDenied,
		Fields: map[string]any{"op": op, "reason": reason},
	})
}

// UserHMAC returns the pseudonymous form of userID written to the log.
func (l *Logger) UserHMAC(userID string) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte("user:" + userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) sign(event *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(recordData(event))
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData serializes every significant field in a fixed order.
func recordData(event *Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s|%s|",
		event.Version, event.ID, event.Timestamp, event.Operation,
		event.UserHMAC, event.WalletID, event.Source, event.SessionID, event.Result)
	if event.Error != nil {
		fmt.Fprintf(&b, "%s|%s", event.Error.Code, event.Error.Message)
	}
	b.WriteByte('|')

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, event.Fields[k])
	}

	fmt.Fprintf(&b, "%d|%s", event.Chain.Sequence, event.Chain.PrevHash)
	return []byte(b.String())
}

// writeEvent appends to the month's log file.
func (l *Logger) writeEvent(event *Event, at time.Time) error {
	path := filepath.Join(l.path, at.Format("2006-01")+".jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, atomicfile.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return f.Sync()
}

// ChainState holds the persistent chain state
type ChainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, chainStateFile))
	if err != nil {
		return err
	}
	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(ChainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := atomicfile.WriteFile(filepath.Join(l.path, chainStateFile), data, atomicfile.FileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

func (l *Logger) checkDiskSpace() error {
	info, err := atomicfile.CheckDiskSpace(l.path)
	if err != nil {
		logx.Errorf("failed to check disk space for audit: %v", err)
		return nil
	}
	if info.Available < MinAuditDiskSpace {
		return fmt.Errorf("%w: audit needs at least %d bytes, %d available",
			atomicfile.ErrInsufficientDisk, MinAuditDiskSpace, info.Available)
	}
	return nil
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every log file in order and checks sequence numbers,
// previous-hash links and record HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesisHash
	var expectedSeq int64 = 1
	if len(events) > 0 && events[0].Chain.Sequence > 1 {
		// Earlier records were pruned; the chain is anchored on the oldest kept record.
		expectedSeq = events[0].Chain.Sequence
		expectedPrev = events[0].Chain.PrevHash
	}

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(event))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	return result, nil
}

// ListEvents returns events after since (zero = all), most recent last,
// capped at limit (0 = no cap).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Prune deletes whole monthly files whose every record is older than
// olderThan and returns how many records were removed. Files that mix
// old and new records are kept intact so the chain stays verifiable from
// the first retained file.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return removed, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		if len(events) == 0 || !allBefore(events, cutoff) {
			// Files are chronological; nothing later can be fully expired.
			break
		}
		if err := os.Remove(file); err != nil {
			return removed, fmt.Errorf("audit: failed to delete %s: %w", file, err)
		}
		removed += len(events)
	}
	return removed, nil
}

func allBefore(events []Event, cutoff time.Time) bool {
	for _, e := range events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil || !ts.Before(cutoff) {
			return false
		}
	}
	return true
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, e)
	}
	return events, sc.Err()
}
