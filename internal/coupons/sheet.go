// Package coupons implements the legacy coupon code sheet: a CSV-backed,
// TTL-cached lookup independent of the primary coupon_codes table,
// selected only when a CSV source is configured.
package coupons

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
)

// SheetCode is one row of the coupon code sheet, aliased across the
// header-name variants the original spreadsheet has shipped with.
type SheetCode struct {
	Code      string
	Credits   int
	MaxUses   int // 0 means unlimited
	ExpiresAt string
	Status    string
	Source    string
}

// SheetSource is a genuinely separate lookup path from the primary
// coupon_codes table; billing.Service never calls into it, and redemption
// is always table-backed.
type SheetSource interface {
	Lookup(code string) (*SheetCode, bool, error)
}

type csvSheetSource struct {
	source string
	ttl    time.Duration

	mu        sync.Mutex
	expiresAt time.Time
	byCode    map[string]*SheetCode
}

// NewSheetSource returns nil when neither COUPON_CODE_SHEET_CSV_URL nor
// COUPON_CODE_SHEET_LOCAL_CSV is set — callers must treat a nil SheetSource
// as "this deployment has no legacy sheet" and skip it entirely.
func NewSheetSource() SheetSource {
	source := envutil.String("COUPON_CODE_SHEET_CSV_URL", "")
	if source == "" {
		source = envutil.String("COUPON_CODE_SHEET_LOCAL_CSV", "")
	}
	if source == "" {
		return nil
	}
	ttlSeconds := envutil.Int("COUPON_CODE_SHEET_CACHE_SECONDS", 300)
	if ttlSeconds < 5 {
		ttlSeconds = 5
	}
	return &csvSheetSource{source: source, ttl: time.Duration(ttlSeconds) * time.Second}
}

func (s *csvSheetSource) Lookup(code string) (*SheetCode, bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, false, nil
	}
	mapping, err := s.loadWithCache()
	if err != nil {
		return nil, false, err
	}
	sc, ok := mapping[normalized]
	return sc, ok, nil
}

func (s *csvSheetSource) loadWithCache() (map[string]*SheetCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Before(s.expiresAt) && s.byCode != nil {
		return s.byCode, nil
	}

	mapping, err := fetchCodesFromCSV(s.source)
	if err != nil {
		return nil, err
	}
	s.byCode = mapping
	s.expiresAt = now.Add(s.ttl)
	return mapping, nil
}

func fetchCodesFromCSV(source string) (map[string]*SheetCode, error) {
	raw, err := readSource(source)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return map[string]*SheetCode{}, nil
		}
		return nil, fmt.Errorf("coupon csv: read header: %w", err)
	}

	result := make(map[string]*SheetCode)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("coupon csv: read row: %w", err)
		}
		row := rowMap(header, record)
		item := parseRow(row)
		if item == nil {
			continue
		}
		result[item.Code] = item
	}
	return result, nil
}

func readSource(source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		client := &http.Client{Timeout: 6 * time.Second}
		resp, err := client.Get(source)
		if err != nil {
			return "", fmt.Errorf("failed to fetch coupon csv: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("failed to fetch coupon csv: status %s", resp.Status)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to fetch coupon csv: %w", err)
		}
		return stripBOM(string(b)), nil
	}

	path := strings.TrimPrefix(source, "file://")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read coupon csv from %s: %w", path, err)
	}
	return stripBOM(string(b)), nil
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

func rowMap(header, record []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, key := range header {
		if i < len(record) {
			row[key] = record[i]
		}
	}
	return row
}

func pick(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return ""
}

func parseRow(row map[string]string) *SheetCode {
	code := strings.ToUpper(strings.TrimSpace(pick(row, "code", "coupon_code", "邀请码", "兑换码")))
	if code == "" {
		return nil
	}

	creditsText := strings.TrimSpace(pick(row, "credits", "额度", "次数"))
	credits, err := strconv.Atoi(creditsText)
	if err != nil || credits <= 0 {
		return nil
	}

	maxUses := 0
	maxUsesText := strings.TrimSpace(pick(row, "max_uses", "max_redemptions", "最大使用次数"))
	if maxUsesText != "" {
		if parsed, err := strconv.Atoi(maxUsesText); err == nil && parsed > 0 {
			maxUses = parsed
		}
	}

	expiresAt := strings.TrimSpace(pick(row, "expires_at", "过期时间"))
	status := strings.ToUpper(strings.TrimSpace(pick(row, "status", "状态")))
	if status == "" {
		status = "ACTIVE"
	}
	source := strings.TrimSpace(pick(row, "source", "渠道", "来源"))

	return &SheetCode{
		Code:      code,
		Credits:   credits,
		MaxUses:   maxUses,
		ExpiresAt: expiresAt,
		Status:    status,
		Source:    source,
	}
}
